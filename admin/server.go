package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tcproxy/ruleproxy/rule"
	"github.com/tcproxy/ruleproxy/store"
)

// Server dispatches admin RPC calls against a rule store and the
// active-program cell.
type Server struct {
	Store  *store.Store
	Cell   *store.Cell
	Logger *zap.Logger
}

// ListenAndServe accepts admin connections until ctx is canceled. Each
// connection may carry any number of sequential request/response frames.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.Logger.Warn("admin accept error", zap.Error(err))
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	connID := uuid.New().String()
	log := s.Logger.With(zap.String("conn", connID))

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			return
		}
		log.Debug("admin call", zap.String("method", req.Method))
		resp := s.dispatch(req)
		if err := writeFrame(conn, resp); err != nil {
			return
		}
	}
}

// dispatch never lets a handler error crash the server: every failure
// is wrapped into an AnyhowError and returned to the caller.
func (s *Server) dispatch(req Request) Response {
	result, err := s.call(req)
	if err != nil {
		return Response{Error: &AnyhowError{Anyhow: err.Error()}}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{Error: &AnyhowError{Anyhow: err.Error()}}
	}
	return Response{Result: raw}
}

func (s *Server) call(req Request) (any, error) {
	switch req.Method {
	case MethodCreate:
		var p CreateParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		// Compile before persisting: invalid content never reaches the store.
		if _, err := rule.Compile(p.Content); err != nil {
			return nil, err
		}
		id, err := s.Store.Create(p.Name, p.Content)
		if err != nil {
			return nil, err
		}
		return id, nil

	case MethodList:
		recs, err := s.Store.List()
		if err != nil {
			return nil, err
		}
		views := make([]RuleFileView, len(recs))
		for i, r := range recs {
			views[i] = RuleFileView{ID: r.ID, Name: r.Name, Content: r.Content}
		}
		return views, nil

	case MethodRequest:
		var p RequestParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		rec, err := s.Store.Request(p.ID)
		if err != nil {
			return nil, err
		}
		return RuleFileView{ID: rec.ID, Name: rec.Name, Content: rec.Content}, nil

	case MethodUpdate:
		var p UpdateParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		if _, err := rule.Compile(p.Content); err != nil {
			return nil, err
		}
		if err := s.Store.Update(p.ID, p.Content); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodDelete:
		var p DeleteParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.Store.Delete(p.ID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case MethodSetProgram:
		var p SetProgramParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		rec, err := s.Store.Request(p.ID)
		if err != nil {
			return nil, err
		}
		prog, err := rule.Compile(rec.Content)
		if err != nil {
			return nil, err
		}
		s.Cell.Install(prog)
		s.Logger.Info("installed program", zap.Int64("id", p.ID), zap.String("name", rec.Name))
		return struct{}{}, nil

	default:
		return nil, errors.New("admin: unknown method " + req.Method)
	}
}
