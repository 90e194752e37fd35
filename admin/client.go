package admin

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a thin synchronous RPC client used by cmd/ruleclient.
type Client struct {
	conn net.Conn
}

// Dial connects to an admin server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("admin: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	if err := writeFrame(c.conn, Request{Method: method, Params: raw}); err != nil {
		return err
	}
	var resp Response
	if err := readFrame(c.conn, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, result)
}

// Create installs a new rule-file record and returns its id.
func (c *Client) Create(name, content string) (int64, error) {
	var id int64
	err := c.call(MethodCreate, CreateParams{Name: name, Content: content}, &id)
	return id, err
}

// List returns every rule-file record.
func (c *Client) List() ([]RuleFileView, error) {
	var views []RuleFileView
	err := c.call(MethodList, struct{}{}, &views)
	return views, err
}

// Request fetches one rule-file record by id.
func (c *Client) Request(id int64) (RuleFileView, error) {
	var view RuleFileView
	err := c.call(MethodRequest, RequestParams{ID: id}, &view)
	return view, err
}

// Update replaces a rule-file record's content.
func (c *Client) Update(id int64, content string) error {
	return c.call(MethodUpdate, UpdateParams{ID: id, Content: content}, nil)
}

// Delete removes a rule-file record.
func (c *Client) Delete(id int64) error {
	return c.call(MethodDelete, DeleteParams{ID: id}, nil)
}

// SetProgram compiles and installs a rule-file's content as the active
// program.
func (c *Client) SetProgram(id int64) error {
	return c.call(MethodSetProgram, SetProgramParams{ID: id}, nil)
}
