package transfer

import (
	"strings"
	"testing"

	"github.com/stratumbio/teskit/internal/model"
)

func TestDownloadCommandsSkipInlineContent(t *testing.T) {
	task := &model.Task{
		Inputs: []model.Input{
			{URL: "https://example.com/a.txt", Path: "/tes-wd/shared/a.txt"},
			{Content: "inline data", Path: "/tes-wd/shared/b.txt"},
			{URL: "https://example.com/c.txt", Path: "/tes-wd/shared/c.txt"},
		},
	}

	commands := DownloadCommands(task)
	if len(commands) != 2 {
		t.Fatalf("got %d commands, want 2 (inline content skipped)", len(commands))
	}
	for _, c := range commands {
		if !strings.Contains(c, " -d ") {
			t.Errorf("download command missing -d flag: %q", c)
		}
	}
	if !strings.Contains(commands[0], "a.txt") || !strings.Contains(commands[1], "c.txt") {
		t.Errorf("commands reference wrong inputs: %v", commands)
	}
}

func TestUploadCommands(t *testing.T) {
	task := &model.Task{
		Outputs: []model.Output{
			{Path: "/tes-wd/shared/out.txt", URL: "https://example.com/out.txt"},
		},
	}

	commands := UploadCommands(task)
	if len(commands) != 1 {
		t.Fatalf("got %d commands, want 1", len(commands))
	}
	if !strings.Contains(commands[0], " -u ") {
		t.Errorf("upload command missing -u flag: %q", commands[0])
	}
	if !strings.Contains(commands[0], "'/tes-wd/shared/out.txt'") {
		t.Errorf("upload command missing quoted path: %q", commands[0])
	}
}

func TestCopyCommandsWithDirs(t *testing.T) {
	commands := CopyCommands("stderr.txt", "/a/b/c/foo")
	if len(commands) != 2 {
		t.Fatalf("got %d commands, want mkdir + cp", len(commands))
	}
	if !strings.HasPrefix(commands[0], "mkdir -p ") || !strings.Contains(commands[0], "'/a/b/c'") {
		t.Errorf("first command = %q, want mkdir -p '/a/b/c'", commands[0])
	}
	if !strings.HasPrefix(commands[1], "cp -f stderr.txt ") {
		t.Errorf("second command = %q, want unquoted source", commands[1])
	}
}

func TestCopyCommandsNoDirs(t *testing.T) {
	commands := CopyCommands("stdout.txt", "foo")
	if len(commands) != 1 {
		t.Fatalf("got %d commands, want cp only", len(commands))
	}
	if !strings.HasPrefix(commands[0], "cp ") {
		t.Errorf("command = %q, want cp", commands[0])
	}
}

func TestQuoteEscapesSingleQuotes(t *testing.T) {
	cmd := DownloadCommand("https://example.com/it's.txt", "/tes-wd/shared/it's.txt")
	if strings.Count(cmd, `'\''`) != 2 {
		t.Errorf("embedded quotes not escaped: %q", cmd)
	}
}
