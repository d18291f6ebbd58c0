// Package command runs the insert/delete/find command stream against a tree.
//
// The stream starts with the number of commands n, followed by n commands:
//
//	insert <key> <value>
//	delete <key> <value>
//	find <key>
//
// Tokens are separated by any whitespace. find prints the values of key in
// ascending order separated by spaces, or null when there are none.
package command

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Engine is the part of the tree the interpreter drives.
type Engine interface {
	Insert(key string, value int32) error
	Delete(key string, value int32) (bool, error)
	Find(key string) ([]int32, error)
}

// ErrUnexpectedEOF is returned when the stream ends before the announced
// number of commands.
var ErrUnexpectedEOF = errors.New("unexpected end of command stream")

// Interpreter executes a command stream.
type Interpreter struct {
	Tree Engine
	Out  io.Writer
	Log  *zap.Logger
}

// Run reads the stream from r and writes find results to Out.
// Output is buffered and flushed when Run returns.
func (it *Interpreter) Run(ctx context.Context, r io.Reader) (err error) {
	log := it.Log
	if log == nil {
		log = zap.NewNop()
	}

	out := bufio.NewWriter(it.Out)
	defer func() {
		if ferr := out.Flush(); ferr != nil && err == nil {
			err = errors.Wrap(ferr, "flush output")
		}
	}()

	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	next := func() (string, error) {
		if sc.Scan() {
			return sc.Text(), nil
		}
		if err := sc.Err(); err != nil {
			return "", errors.Wrap(err, "read command stream")
		}
		return "", ErrUnexpectedEOF
	}

	tok, err := next()
	if err != nil {
		if err == ErrUnexpectedEOF {
			return nil
		}
		return err
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return errors.Errorf("invalid command count %q", tok)
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd, err := next()
		if err != nil {
			return errors.Wrapf(err, "command %d", i+1)
		}
		switch cmd {
		case "insert", "delete":
			key, value, err := it.pair(next)
			if err != nil {
				return errors.Wrapf(err, "command %d (%s)", i+1, cmd)
			}
			if cmd == "insert" {
				err = it.Tree.Insert(key, value)
			} else {
				_, err = it.Tree.Delete(key, value)
			}
			if err != nil {
				return errors.Wrapf(err, "command %d (%s %s %d)", i+1, cmd, key, value)
			}

		case "find":
			key, err := next()
			if err != nil {
				return errors.Wrapf(err, "command %d (find)", i+1)
			}
			values, err := it.Tree.Find(key)
			if err != nil {
				return errors.Wrapf(err, "command %d (find %s)", i+1, key)
			}
			if _, err := out.WriteString(format(values)); err != nil {
				return errors.Wrap(err, "write output")
			}

		default:
			return errors.Errorf("command %d: unknown command %q", i+1, cmd)
		}
	}

	log.Debug("command stream done", zap.Int("commands", n))
	return nil
}

func (it *Interpreter) pair(next func() (string, error)) (string, int32, error) {
	key, err := next()
	if err != nil {
		return "", 0, err
	}
	tok, err := next()
	if err != nil {
		return "", 0, err
	}
	v, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return "", 0, errors.Errorf("invalid value %q", tok)
	}
	return key, int32(v), nil
}

// format renders one find result line.
func format(values []int32) string {
	if len(values) == 0 {
		return "null\n"
	}
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatInt(int64(v), 10))
	}
	b.WriteByte('\n')
	return b.String()
}
