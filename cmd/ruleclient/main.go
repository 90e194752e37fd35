// Command ruleclient is the operator shell for the admin RPC surface
// (spec.md §6), grounded in original_source/client/src/main.rs's
// read-eval loop and client/src/command/*.rs's one-subcommand-per-file
// layout.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"

	"github.com/tcproxy/ruleproxy/admin"
)

const historyFile = ".ruleclient_history"

func main() {
	serverAddr := flag.String("server-addr", admin.DefaultAddr, "admin RPC server address")
	flag.Parse()

	client, err := admin.Dial(*serverAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer client.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("Connected to", *serverAddr)
	for {
		input, err := line.Prompt("(META)> ")
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				break
			}
			fmt.Fprintln(os.Stderr, err)
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if runCommand(client, input) {
			break
		}
	}

	if f, err := os.Create(historyFile); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
}

// runCommand dispatches one line of operator input. Returns true if the
// shell should exit.
func runCommand(client *admin.Client, input string) bool {
	fields := strings.Fields(input)
	cmd, rest := fields[0], fields[1:]

	switch cmd {
	case "exit":
		fmt.Println("Goodbye!")
		return true

	case "create":
		name, path, err := parseCreateArgs(rest)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return false
		}
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return false
		}
		id, err := client.Create(name, string(content))
		if err != nil {
			color.Red("error: %v", err)
			return false
		}
		fmt.Printf("Created rule file with id: %d\n", id)

	case "list":
		views, err := client.List()
		if err != nil {
			color.Red("error: %v", err)
			return false
		}
		printRuleFiles(views)

	case "request":
		id, err := parseIDArg(rest)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return false
		}
		view, err := client.Request(id)
		if err != nil {
			color.Red("error: %v", err)
			return false
		}
		printRuleFiles([]admin.RuleFileView{view})

	case "update":
		id, path, err := parseUpdateArgs(rest)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return false
		}
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return false
		}
		if err := client.Update(id, string(content)); err != nil {
			color.Red("error: %v", err)
			return false
		}
		fmt.Printf("Updated rule file (id %d) to match %s\n", id, path)

	case "delete":
		id, err := parseIDArg(rest)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return false
		}
		if err := client.Delete(id); err != nil {
			color.Red("error: %v", err)
			return false
		}
		fmt.Printf("Deleted rule file with id: %d\n", id)

	case "set-program":
		id, err := parseIDArg(rest)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return false
		}
		if err := client.SetProgram(id); err != nil {
			color.Red("error: %v", err)
			return false
		}
		fmt.Printf("Set program with id: %d\n", id)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (try create, list, request, update, delete, set-program, exit)\n", cmd)
	}
	return false
}

func printRuleFiles(views []admin.RuleFileView) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Content"})
	for _, v := range views {
		table.Append([]string{strconv.FormatInt(v.ID, 10), v.Name, v.Content})
	}
	table.Render()
}

func parseCreateArgs(args []string) (name, path string, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			i++
			if i >= len(args) {
				return "", "", fmt.Errorf("create: --name requires a value")
			}
			name = args[i]
		case "--path":
			i++
			if i >= len(args) {
				return "", "", fmt.Errorf("create: --path requires a value")
			}
			path = args[i]
		}
	}
	if name == "" || path == "" {
		return "", "", fmt.Errorf("usage: create --name <name> --path <file>")
	}
	return name, path, nil
}

func parseUpdateArgs(args []string) (id int64, path string, err error) {
	var idStr string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--id":
			i++
			if i >= len(args) {
				return 0, "", fmt.Errorf("update: --id requires a value")
			}
			idStr = args[i]
		case "--path":
			i++
			if i >= len(args) {
				return 0, "", fmt.Errorf("update: --path requires a value")
			}
			path = args[i]
		}
	}
	if idStr == "" || path == "" {
		return 0, "", fmt.Errorf("usage: update --id <id> --path <file>")
	}
	id, err = strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("update: invalid id %q", idStr)
	}
	return id, path, nil
}

func parseIDArg(args []string) (int64, error) {
	for i := 0; i < len(args); i++ {
		if args[i] == "--id" && i+1 < len(args) {
			return strconv.ParseInt(args[i+1], 10, 64)
		}
	}
	if len(args) == 1 {
		return strconv.ParseInt(args[0], 10, 64)
	}
	return 0, fmt.Errorf("usage: --id <id> or a bare id")
}
