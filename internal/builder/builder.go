// Package builder runs the configured artifact build command against a
// checkout and verifies it produced the phar and its signature.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/console-helpers/svn-buddy-updater/internal/config"
	"github.com/console-helpers/svn-buddy-updater/internal/logging"
	"github.com/console-helpers/svn-buddy-updater/internal/release"
)

// ErrBuild wraps command failures and missing build outputs.
var ErrBuild = errors.New("artifact build failed")

const defaultTimeout = 15 * time.Minute

type Builder struct {
	command []string
	timeout time.Duration
	log     *logging.Logger
}

func New(cfg config.Build, log *logging.Logger) *Builder {
	timeout := time.Duration(cfg.Timeout)
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Builder{command: cfg.Command, timeout: timeout, log: log}
}

// Build runs the build command with its working directory set to checkoutDir
// and OUTPUT_DIR pointing at outputDir, then verifies both artifact files
// exist there. The artifact paths are returned in phar, signature order.
func (b *Builder) Build(ctx context.Context, checkoutDir, outputDir string) (pharPath, signaturePath string, err error) {
	if len(b.command) == 0 {
		return "", "", fmt.Errorf("%w: no build command configured", ErrBuild)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBuild, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.command[0], b.command[1:]...)
	cmd.Dir = checkoutDir
	cmd.Env = append(os.Environ(), "OUTPUT_DIR="+outputDir)

	b.log.Debugf("Running build command %v in %s.", b.command, checkoutDir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", "", fmt.Errorf("%w: timed out after %s", ErrBuild, b.timeout)
		}
		return "", "", fmt.Errorf("%w: %v: %s", ErrBuild, err, string(output))
	}

	pharPath = filepath.Join(outputDir, release.PharFileName)
	signaturePath = filepath.Join(outputDir, release.SignatureFileName)
	for _, path := range []string{pharPath, signaturePath} {
		if _, err := os.Stat(path); err != nil {
			return "", "", fmt.Errorf("%w: expected build output %s: %v", ErrBuild, filepath.Base(path), err)
		}
	}

	return pharPath, signaturePath, nil
}
