package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/pipeline"
)

const promptHelp = "[y]es, [n]o, [s]kip, [p]revious, skip [a]ll"

// promptAnswerer asks review questions on a terminal.
type promptAnswerer struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptAnswerer(in io.Reader, out io.Writer) *promptAnswerer {
	return &promptAnswerer{in: bufio.NewReader(in), out: out}
}

// Ask prints q with its statement context and reads until a valid reply.
// End of input is an error, which abandons the review.
func (p *promptAnswerer) Ask(ctx context.Context, q model.Question, st *model.Statement) (model.Answer, error) {
	fmt.Fprintf(p.out, "\nQuestion %d of %d", q.Index, q.Total)
	if q.PageInfo != "" {
		fmt.Fprintf(p.out, " (page %s)", q.PageInfo)
	}
	fmt.Fprintln(p.out)
	if st != nil && st.RawTextExcerpt != "" {
		fmt.Fprintf(p.out, "  statement: %s\n", firstLine(st.RawTextExcerpt))
	}
	fmt.Fprintf(p.out, "  extracted: %s\n", q.ExtractedName)
	fmt.Fprintf(p.out, "  roster:    %s\n", q.RosterName)
	fmt.Fprintf(p.out, "  score:     %.1f\n", q.Score)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(p.out, "Same company? %s: ", promptHelp)
		line, err := p.in.ReadString('\n')
		if err != nil && (err != io.EOF || strings.TrimSpace(line) == "") {
			return "", eris.Wrap(err, "prompt: read answer")
		}

		reply := strings.TrimSpace(line)
		switch strings.ToLower(reply) {
		case "a", "skip-all":
			return "", pipeline.ErrSkipAll
		}
		ans, perr := model.ParseAnswer(reply)
		if perr == nil {
			return ans, nil
		}
		fmt.Fprintf(p.out, "Unrecognized answer %q.\n", reply)
		if err == io.EOF {
			return "", eris.Wrap(err, "prompt: read answer")
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
