package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	dscontext "github.com/vnykmshr/dispatch/pkg/common/context"
	dserrors "github.com/vnykmshr/dispatch/pkg/common/errors"
	"github.com/vnykmshr/dispatch/pkg/common/validation"
	"github.com/vnykmshr/dispatch/pkg/metrics"
	"github.com/vnykmshr/dispatch/pkg/scheduling/batch"
	"github.com/vnykmshr/dispatch/pkg/scheduling/workerpool"
)

// Phases reported in OperationError.Operation.
const (
	OpDial  = "dial"
	OpWrite = "write"
	OpRead  = "read"
)

// ErrEmptyResponse is the cause of a read error when the server closed the
// connection without sending a line.
var ErrEmptyResponse = errors.New("empty response")

// Config describes the server to probe and how.
type Config struct {
	// Network is passed to the dialer. Defaults to "tcp".
	Network string

	// Address is the host:port of the server.
	Address string

	// DialTimeout bounds connection setup. Zero means no limit beyond ctx.
	DialTimeout time.Duration

	// IOTimeout bounds the write and the read together. Zero means no limit
	// beyond ctx.
	IOTimeout time.Duration

	// Message builds the request line from the local address. Defaults to
	// DefaultMessage. A trailing newline is added if missing.
	Message func(local string) string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records exchange results and latency when Metrics.Enabled.
	Metrics metrics.Config
}

// DefaultMessage is the greeting sent when Config.Message is nil.
func DefaultMessage(local string) string {
	return "Hello from Client " + local
}

// DefaultConfig returns the default target: a TCP
// exchange with localhost:8010.
func DefaultConfig() Config {
	return Config{
		Network:     "tcp",
		Address:     "localhost:8010",
		DialTimeout: 5 * time.Second,
		IOTimeout:   10 * time.Second,
		Message:     DefaultMessage,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidateNotEmpty("probe", "address", c.Address); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("probe", "dial_timeout", c.DialTimeout); err != nil {
		return err
	}
	return validation.ValidateNonNegativeDuration("probe", "io_timeout", c.IOTimeout)
}

// Response is the outcome of a successful exchange.
type Response struct {
	// Line is the server's reply without its line terminator.
	Line string

	Local  string
	Remote string

	// Latency runs from the start of the dial to the end of the read.
	Latency time.Duration
}

// Exchange connects to config.Address, sends one line, reads one line and
// closes the connection. The connection is closed on every path. Canceling
// ctx aborts a dial or unblocks pending I/O.
//
// Failures are *errors.OperationError values whose Operation names the
// phase that failed.
func Exchange(ctx context.Context, config Config) (Response, error) {
	config = withDefaults(config)
	start := time.Now()

	resp, err := exchange(ctx, config, start)
	recordExchange(config, err, time.Since(start))
	if err != nil {
		return Response{}, err
	}

	config.Logger.Info("response from server", "response", resp.Line, "local", resp.Local)
	return resp, nil
}

func exchange(ctx context.Context, config Config, start time.Time) (Response, error) {
	dialCtx := ctx
	if config.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, config.Network, config.Address)
	if err != nil {
		return Response{}, phaseError(OpDial, config.Address, ioCause(ctx, err))
	}
	defer conn.Close()

	if config.IOTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(config.IOTimeout)); err != nil {
			return Response{}, phaseError(OpWrite, config.Address, err)
		}
	}

	// Expire the deadline on cancellation so blocked reads and writes return.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	local := conn.LocalAddr().String()
	line := config.Message(local)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := io.WriteString(conn, line); err != nil {
		return Response{}, phaseError(OpWrite, config.Address, ioCause(ctx, err))
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	reply = strings.TrimRight(reply, "\r\n")
	if err != nil && !(errors.Is(err, io.EOF) && reply != "") {
		if errors.Is(err, io.EOF) {
			err = ErrEmptyResponse
		}
		return Response{}, phaseError(OpRead, config.Address, ioCause(ctx, err))
	}

	return Response{
		Line:    reply,
		Local:   local,
		Remote:  conn.RemoteAddr().String(),
		Latency: time.Since(start),
	}, nil
}

// ioCause reports ctx's error instead of the deadline error it provoked,
// and marks configured timeouts with ErrTimeout.
func ioCause(ctx context.Context, err error) error {
	if dscontext.IsCanceled(ctx) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", dserrors.ErrTimeout, err)
	}
	return err
}

func phaseError(op, addr string, err error) error {
	return dserrors.NewOperationError("probe", op, err).WithContext(addr)
}

func recordExchange(config Config, err error, elapsed time.Duration) {
	if !config.Metrics.Enabled {
		return
	}
	reg := config.Metrics.Resolve()

	result := "ok"
	var opErr *dserrors.OperationError
	if errors.As(err, &opErr) {
		result = opErr.Operation + "_error"
	}
	reg.ProbeExchanges.WithLabelValues(config.Address, result).Inc()
	if err == nil {
		reg.ProbeLatency.WithLabelValues(config.Address).Observe(elapsed.Seconds())
	}
}

func withDefaults(config Config) Config {
	if config.Network == "" {
		config.Network = "tcp"
	}
	if config.Message == nil {
		config.Message = DefaultMessage
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return config
}

// NewTask returns a task that performs one Exchange using the pool's
// context.
func NewTask(config Config) workerpool.Task {
	return workerpool.TaskFunc(func(ctx context.Context) error {
		_, err := Exchange(ctx, config)
		return err
	})
}

// Factory returns a batch.TaskFactory producing probe tasks for config.
func Factory(config Config) batch.TaskFactory {
	return func(int) workerpool.Task {
		return NewTask(config)
	}
}
