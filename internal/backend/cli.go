package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jnst/asset-delivery-engine/internal/logger"
)

const (
	slowCommandThreshold = 5 * time.Second
	waitDelay            = time.Second
	redacted             = "[REDACTED]"
)

var balancePattern = regexp.MustCompile(`Available: (\d+)`)

// ErrUnexpectedOutput is returned when the CLI output cannot be parsed.
var ErrUnexpectedOutput = errors.New("unexpected rgb output")

// CLIConfig locates the rgb binary and the wallet it operates on.
type CLIConfig struct {
	Binary     string
	Network    string
	WalletName string
	ContractID string
	DataDir    string
}

// CLIBackend shells out to the rgb CLI. The credential is written to the
// child's stdin and never appears in argv or the environment.
type CLIBackend struct {
	cfg    CLIConfig
	logger *slog.Logger
}

// NewCLIBackend creates a CLIBackend.
func NewCLIBackend(cfg CLIConfig, l *slog.Logger) *CLIBackend {
	if cfg.Binary == "" {
		cfg.Binary = "rgb"
	}

	return &CLIBackend{cfg: cfg, logger: logger.Or(l)}
}

// Transfer runs `rgb transfer` writing the consignment to req.ArtifactPath.
func (b *CLIBackend) Transfer(ctx context.Context, req TransferRequest) error {
	args := []string{
		"--network", b.cfg.Network, "transfer",
		"--wallet", b.cfg.WalletName,
		"--amount", strconv.FormatInt(req.UnitAmount, 10),
		"--recipient", req.Recipient,
		"--password-stdin",
		"--consignment", req.ArtifactPath,
	}
	if b.cfg.ContractID != "" {
		args = append(args, "--contract", b.cfg.ContractID)
	}

	env := []string{"RGB_IDEMPOTENCY_KEY=" + req.IdempotencyKey}
	_, err := b.run(ctx, "transfer", req.Credential, env, args...)

	return err
}

// Balance runs `rgb wallet balance` and parses the available amount.
func (b *CLIBackend) Balance(ctx context.Context, credential []byte) (int64, error) {
	args := []string{
		"--network", b.cfg.Network, "wallet", "balance",
		"--name", b.cfg.WalletName,
		"--password-stdin",
	}
	if b.cfg.ContractID != "" {
		args = append(args, "--contract", b.cfg.ContractID)
	}

	out, err := b.run(ctx, "balance", credential, nil, args...)
	if err != nil {
		return 0, err
	}

	m := balancePattern.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("%w: no available balance in output", ErrUnexpectedOutput)
	}

	return strconv.ParseInt(m[1], 10, 64)
}

func (b *CLIBackend) run(
	ctx context.Context, subcommand string, credential []byte, extraEnv []string, args ...string,
) (string, error) {
	cmd := exec.CommandContext(ctx, b.cfg.Binary, args...)
	cmd.WaitDelay = waitDelay
	cmd.Env = append(os.Environ(), "RGB_NETWORK="+b.cfg.Network)
	if b.cfg.DataDir != "" {
		cmd.Env = append(cmd.Env, "RGB_DATA_DIR="+b.cfg.DataDir)
	}
	cmd.Env = append(cmd.Env, extraEnv...)

	stdin := make([]byte, 0, len(credential)+1)
	stdin = append(stdin, credential...)
	stdin = append(stdin, '\n')
	defer clear(stdin)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if duration > slowCommandThreshold {
		b.logger.Warn("slow rgb command",
			slog.String("subcommand", subcommand),
			slog.Duration("duration", duration),
		)
	}

	if err != nil {
		msg := scrub(strings.TrimSpace(stderr.String()), credential)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("rgb %s: %w", subcommand, ctxErr)
		}
		if msg == "" {
			return "", fmt.Errorf("rgb %s: %w", subcommand, err)
		}
		return "", fmt.Errorf("rgb %s: %w: %s", subcommand, err, msg)
	}

	return scrub(stdout.String(), credential), nil
}

func scrub(s string, credential []byte) string {
	if len(credential) == 0 {
		return s
	}

	return strings.ReplaceAll(s, string(credential), redacted)
}
