package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	kerrors "github.com/jllopis/kluster/pkg/errors"
)

const labelPrompt = "Please enter a genre: "

// resolveLabel returns the genre given on the command line, or reads one line from in.
// The prompt is written only when showPrompt is set.
func resolveLabel(args []string, in io.Reader, out io.Writer, showPrompt bool) (string, error) {
	if len(args) > 1 {
		return "", NewInvalidArgumentError(strings.Join(args, " "), "expected a single genre")
	}
	if len(args) == 1 {
		return validLabel(args[0])
	}

	if showPrompt {
		fmt.Fprint(out, labelPrompt)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", kerrors.New(kerrors.CodeInvalidInput, "failed to read genre", err)
	}
	return validLabel(line)
}

func validLabel(raw string) (string, error) {
	label := strings.TrimSpace(raw)
	if label == "" {
		return "", kerrors.Configuration("genre must not be empty")
	}
	return label, nil
}
