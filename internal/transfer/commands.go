// Package transfer builds the shell command lines that drive the
// file-transfer helper container. The helper itself is an opaque staging
// primitive: it is handed a URL and a path and moves bytes between them.
package transfer

import (
	"path"
	"strings"

	"github.com/stratumbio/teskit/internal/model"
)

// HelperImage is the container image providing the file-transfer helper.
const HelperImage = "stratumbio.azurecr.io/teskit/container-filetransfer"

// helperScript is the entrypoint of the transfer helper inside HelperImage.
const helperScript = "python /home/ft/cloud-transfer.py"

// DownloadCommand returns the command to download url to path.
func DownloadCommand(url, path string) string {
	return helperScript + " -v -d " + quote(url) + " " + quote(path)
}

// DownloadCommands returns the commands that stage all of the task's
// URL-backed inputs. Inputs carrying inline content are skipped here: their
// URL is ignored and the backend stages the content separately.
func DownloadCommands(task *model.Task) []string {
	var commands []string
	for _, in := range task.Inputs {
		if in.Content != "" {
			continue
		}
		commands = append(commands, DownloadCommand(in.URL, in.Path))
	}
	return commands
}

// UploadCommand returns the command to upload path to url.
func UploadCommand(path, url string) string {
	return helperScript + " -v -u " + quote(path) + " " + quote(url)
}

// UploadCommands returns the commands that collect all of the task's
// declared outputs.
func UploadCommands(task *model.Task) []string {
	var commands []string
	for _, out := range task.Outputs {
		commands = append(commands, UploadCommand(out.Path, out.URL))
	}
	return commands
}

// CopyCommands returns the commands to copy source to destination inside an
// executor container, creating the destination directory first when one is
// present. The source is left unquoted so backend environment variables in
// it still expand.
func CopyCommands(source, destination string) []string {
	var commands []string
	if dir := path.Dir(destination); dir != "." && dir != "/" {
		commands = append(commands, "mkdir -p "+quote(dir))
	}
	commands = append(commands, "cp -f "+source+" "+quote(destination))
	return commands
}

// quote wraps s in single quotes for POSIX shells, escaping embedded quotes.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
