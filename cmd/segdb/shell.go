package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

const prompt = "segdb> "

var shellCommands = []string{"ingest", "merge", "rewrite", "ids", "term", "get", "segments", "help", "exit"}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".segdb_history")
}

func (a *app) shell(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(s string) []string {
		var out []string
		for _, c := range shellCommands {
			if strings.HasPrefix(c, s) {
				out = append(out, c)
			}
		}
		return out
	})

	hist := historyPath()
	if f, err := os.Open(hist); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if hist == "" {
			return
		}
		if f, err := os.Create(hist); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(a.out, "Type 'help' for commands, 'exit' to quit.")
	for ctx.Err() == nil {
		input, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(a.out)
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}
		line.AppendHistory(input)
		if fields[0] == "exit" || fields[0] == "quit" {
			return nil
		}
		if fields[0] == "ingest" && (len(fields) < 2 || fields[len(fields)-1] == "-") {
			fmt.Fprintln(a.out, "error: the shell ingests from files only")
			continue
		}
		if err := a.exec(ctx, fields[0], fields[1:], nil); err != nil {
			fmt.Fprintln(a.out, "error:", err)
		}
	}
	return ctx.Err()
}
