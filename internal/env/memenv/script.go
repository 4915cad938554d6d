package memenv

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/cruciblehq/cruxbuild/internal/env"
)

// Interprets a small command language against the in-memory filesystem.
//
// Commands are parsed as POSIX shell: words are quoted and expanded from the
// environment's variables, and lists may use "&&", "||", ";", "!", braces
// and ">" or ">>" redirections. Each simple command is one of the builtins
// below; relative paths resolve against the workdir.
//
//	mkdir [-p] DIR...       create directories
//	write FILE TEXT...      write TEXT to FILE with mode 0644
//	install FILE TEXT...    write TEXT to FILE with mode 0755
//	cp SRC DST              copy a file or directory tree
//	rm [-rf] PATH...        remove paths
//	chmod MODE PATH         set octal permission bits
//	cat FILE                print FILE to stdout
//	echo TEXT...            print TEXT to stdout
//	warn TEXT...            print TEXT to stderr
//	sleep DURATION          wait for a Go duration
//	true | false | exit N   exit with 0, 1 or N
//
// Unknown commands exit with 127; unsupported shell constructs exit with 2.
func Script(ctx context.Context, e *Env, command string) (*env.ExecResult, error) {
	var stdout, stderr strings.Builder

	file, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return &env.ExecResult{ExitCode: 2, Stderr: err.Error() + "\n"}, nil
	}

	s := &script{
		ctx:    ctx,
		env:    e,
		cfg:    &expand.Config{Env: expand.ListEnviron(e.spec.Env...)},
		stdout: &stdout,
		stderr: &stderr,
	}
	code := s.stmts(file.Stmts)

	return &env.ExecResult{ExitCode: code, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// State of one script execution.
type script struct {
	ctx    context.Context
	env    *Env
	cfg    *expand.Config
	stdout *strings.Builder
	stderr *strings.Builder
	exited bool // Set once exit runs; stops every enclosing list.
}

// Runs statements in sequence, returning the last exit code.
func (s *script) stmts(list []*syntax.Stmt) int {
	code := 0
	for _, st := range list {
		code = s.stmt(st)
		if s.exited {
			break
		}
	}
	return code
}

// Runs a statement with its redirections.
func (s *script) stmt(st *syntax.Stmt) int {
	if st.Background || st.Coprocess {
		return s.unsupported("background jobs")
	}

	code := 0
	if len(st.Redirs) == 0 {
		code = s.command(st.Cmd)
	} else {
		code = s.redirected(st)
	}

	if st.Negated && !s.exited {
		if code == 0 {
			return 1
		}
		return 0
	}
	return code
}

// Runs a statement whose standard output goes to files.
func (s *script) redirected(st *syntax.Stmt) int {
	out := s.stdout
	var captured strings.Builder
	s.stdout = &captured
	code := s.command(st.Cmd)
	s.stdout = out

	for _, r := range st.Redirs {
		if r.N != nil || (r.Op != syntax.RdrOut && r.Op != syntax.AppOut) {
			return s.unsupported("redirection " + r.Op.String())
		}
		name, err := expand.Literal(s.cfg, r.Word)
		if err != nil {
			return s.failf(2, "%v", err)
		}

		data := []byte(captured.String())
		if r.Op == syntax.AppOut {
			if prev, err := s.env.ReadFile(s.ctx, name); err == nil {
				data = append(prev, data...)
			}
		}
		s.env.WriteFile(name, data, 0644)
	}
	return code
}

// Runs a command node.
func (s *script) command(cmd syntax.Command) int {
	switch cmd := cmd.(type) {
	case *syntax.CallExpr:
		args, err := expand.Fields(s.cfg, cmd.Args...)
		if err != nil {
			return s.failf(2, "%v", err)
		}
		if len(args) == 0 {
			return 0
		}
		code := run(s.ctx, s.env, args, s.stdout, s.stderr)
		if args[0] == "exit" {
			s.exited = true
		}
		return code

	case *syntax.BinaryCmd:
		if cmd.Op != syntax.AndStmt && cmd.Op != syntax.OrStmt {
			return s.unsupported("operator " + cmd.Op.String())
		}
		code := s.stmt(cmd.X)
		if s.exited || (code == 0) != (cmd.Op == syntax.AndStmt) {
			return code
		}
		return s.stmt(cmd.Y)

	case *syntax.Block:
		return s.stmts(cmd.Stmts)
	}

	return s.unsupported(fmt.Sprintf("%T", cmd))
}

func (s *script) unsupported(what string) int {
	return s.failf(2, "unsupported %s", what)
}

func (s *script) failf(code int, format string, a ...any) int {
	fmt.Fprintf(s.stderr, "script: %s\n", fmt.Sprintf(format, a...))
	return code
}

// Runs a single command, returning its exit code.
func run(ctx context.Context, e *Env, args []string, stdout, stderr *strings.Builder) int {
	fail := func(code int, format string, a ...any) int {
		fmt.Fprintf(stderr, "%s: %s\n", args[0], fmt.Sprintf(format, a...))
		return code
	}
	text := func(from int) string {
		return strings.Join(args[from:], " ")
	}

	switch args[0] {
	case "mkdir":
		for _, p := range args[1:] {
			if p != "-p" {
				e.MkdirAll(p)
			}
		}

	case "write", "install":
		if len(args) < 2 {
			return fail(2, "missing file operand")
		}
		mode := fs.FileMode(0644)
		if args[0] == "install" {
			mode = 0755
		}
		e.WriteFile(args[1], []byte(text(2)), mode)

	case "cp":
		if len(args) != 3 {
			return fail(2, "expected source and destination")
		}
		data, err := e.Archive(ctx, args[1])
		if err != nil {
			return fail(1, "%s: no such file or directory", args[1])
		}
		if err := e.Extract(ctx, data, args[2]); err != nil {
			return fail(1, "%v", err)
		}

	case "rm":
		for _, p := range args[1:] {
			if !strings.HasPrefix(p, "-") {
				e.RemoveAll(p)
			}
		}

	case "chmod":
		if len(args) != 3 {
			return fail(2, "expected mode and path")
		}
		mode, err := strconv.ParseUint(args[1], 8, 32)
		if err != nil {
			return fail(2, "invalid mode %q", args[1])
		}
		key := e.resolve(args[2])
		entry, ok := e.fs[key]
		if !ok {
			return fail(1, "%s: no such file or directory", args[2])
		}
		entry.Mode = int64(mode)
		e.fs[key] = entry

	case "cat":
		for _, p := range args[1:] {
			data, err := e.ReadFile(ctx, p)
			if err != nil {
				return fail(1, "%s: no such file or directory", p)
			}
			stdout.Write(data)
		}

	case "echo":
		fmt.Fprintln(stdout, text(1))

	case "warn":
		fmt.Fprintln(stderr, text(1))

	case "sleep":
		if len(args) != 2 {
			return fail(2, "expected duration")
		}
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fail(2, "invalid duration %q", args[1])
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return 130
		}

	case "true":
	case "false":
		return 1

	case "exit":
		if len(args) != 2 {
			return fail(2, "expected status")
		}
		code, err := strconv.Atoi(args[1])
		if err != nil {
			return fail(2, "invalid status %q", args[1])
		}
		return code

	default:
		return fail(127, "command not found")
	}

	return 0
}
