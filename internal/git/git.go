// Package git wraps the git commands used to check, apply and commit patches.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result is the outcome of one git invocation. OK is false when git ran and
// exited non-zero; Stderr then holds its explanation.
type Result struct {
	OK     bool
	Stdout string
	Stderr string
}

// Client runs git commands.
type Client struct {
	// Binary is the git executable, "git" by default.
	Binary string
}

// New returns a Client using git from PATH.
func New() *Client {
	return &Client{Binary: "git"}
}

// Validate checks that the patch applies cleanly without touching the tree.
func (c *Client) Validate(ctx context.Context, patchPath, repoRoot string) (Result, error) {
	return c.run(ctx, repoRoot, "apply", "--check", "--whitespace=nowarn", patchPath)
}

// Apply applies the patch to the working tree.
func (c *Client) Apply(ctx context.Context, patchPath, repoRoot string) (Result, error) {
	return c.run(ctx, repoRoot, "apply", "--whitespace=nowarn", patchPath)
}

// Revert reverses a previously applied patch.
func (c *Client) Revert(ctx context.Context, patchPath, repoRoot string) (Result, error) {
	return c.run(ctx, repoRoot, "apply", "-R", "--whitespace=nowarn", patchPath)
}

// Commit stages paths and commits them with message. With no paths it
// commits every tracked modification.
func (c *Client) Commit(ctx context.Context, message, repoRoot string, paths ...string) (Result, error) {
	if len(paths) > 0 {
		args := append([]string{"add", "-A", "--"}, paths...)
		res, err := c.run(ctx, repoRoot, args...)
		if err != nil || !res.OK {
			return res, err
		}
		return c.run(ctx, repoRoot, "commit", "-m", message, "--")
	}
	return c.run(ctx, repoRoot, "commit", "-a", "-m", message)
}

// HeadSHA returns the commit id of HEAD in Stdout.
func (c *Client) HeadSHA(ctx context.Context, repoRoot string) (Result, error) {
	res, err := c.run(ctx, repoRoot, "rev-parse", "HEAD")
	res.Stdout = strings.TrimSpace(res.Stdout)
	return res, err
}

// FindRoot returns the top-level directory of the repository containing dir.
func (c *Client) FindRoot(ctx context.Context, dir string) (string, error) {
	res, err := c.run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	if !res.OK {
		return "", fmt.Errorf("not a git repository: %s", strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// run executes git in dir. The error is non-nil only when git could not be
// started or the context ended; a non-zero exit is reported through Result.
func (c *Client) run(ctx context.Context, dir string, args ...string) (Result, error) {
	bin := c.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{OK: err == nil, Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, nil
	}
	return res, fmt.Errorf("running git %s: %w", args[0], err)
}
