package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/bjaus/barrel/match"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoMatch is returned by the match command when the pattern selects
// nothing, so scripts can test the exit status.
var ErrNoMatch = errors.New("no match")

// NewMatchCommand creates the match command.
func NewMatchCommand() *cobra.Command {
	var (
		pattern string
		message string
	)
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Print the values a pattern selects from a JSON message",
		Long: `Print the values a pattern selects from a JSON message, one JSON
document per line.

A pattern starting with "{" is a shape; anything else is a literal key or a
JSONPath expression, as in listener registration.`,
		Example: `  echo '{"order":{"id":7}}' | barrel match --pattern '$.order.id'
  barrel match --pattern '{"id":"*"}' --message event.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := parsePattern(pattern)
			if err != nil {
				return err
			}
			raw, err := readMessage(cmd.InOrStdin(), message)
			if err != nil {
				return err
			}
			return runMatch(cmd.OutOrStdout(), p, raw)
		},
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "shape JSON, literal key or JSONPath")
	cmd.Flags().StringVarP(&message, "message", "m", "-", "message file, - for stdin")
	_ = cmd.MarkFlagRequired("pattern")
	return cmd
}

func parsePattern(s string) (match.Pattern, error) {
	if strings.HasPrefix(strings.TrimSpace(s), "{") {
		tree, err := match.Decode([]byte(s))
		if err != nil {
			return match.Pattern{}, fmt.Errorf("shape: %w", err)
		}
		return match.Parse(tree)
	}
	return match.Parse(s)
}

func readMessage(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func runMatch(out io.Writer, p match.Pattern, raw []byte) error {
	msg, err := match.Decode(raw)
	if err != nil {
		return fmt.Errorf("message: %w", err)
	}
	res, err := match.Find(msg, p)
	if err != nil {
		return err
	}
	if res.Empty() {
		return ErrNoMatch
	}
	for _, v := range res.All() {
		b, err := jsonAPI.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, string(b)); err != nil {
			return err
		}
	}
	return nil
}
