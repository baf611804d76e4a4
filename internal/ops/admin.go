package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/yanun0323/logs"

	"main/internal/exec"
	"main/internal/schema"
	"main/pkg/scanner"
	"main/pkg/uds"
)

// AdminServer exposes the audited operator surface over a unix socket:
// kill-switch state, manual trip, operator reset and on-demand
// reconciliation. One JSON request line per connection, one JSON
// response line back.
type AdminServer struct {
	sup    *exec.Supervisor
	server *uds.Server
}

// AdminResponse is the reply to every admin command.
type AdminResponse struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	KillSwitch string `json:"kill_switch,omitempty"`
	Position   int    `json:"position,omitempty"`
	Mismatch   bool   `json:"mismatch,omitempty"`
}

// NewAdminServer creates the server for the given socket path.
func NewAdminServer(path string, sup *exec.Supervisor) (*AdminServer, error) {
	server, err := uds.NewServer(path)
	if err != nil {
		return nil, err
	}
	return &AdminServer{sup: sup, server: server}, nil
}

// Serve accepts connections until the context is canceled. It blocks.
func (a *AdminServer) Serve(ctx context.Context) error {
	if err := a.server.Listen(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = a.server.Close()
	}()

	for {
		conn, err := a.server.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		a.handle(ctx, conn)
	}
}

func (a *AdminServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewScanner(conn)
	if !reader.Scan() {
		return
	}
	response := a.dispatch(ctx, reader.Bytes())

	payload, err := json.Marshal(response)
	if err != nil {
		logs.Errorf("admin response marshal: %v", err)
		return
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		logs.Errorf("admin response write: %v", err)
	}
}

func (a *AdminServer) dispatch(ctx context.Context, request []byte) AdminResponse {
	cmd, ok := scanner.ScanStringField(request, []byte(`"cmd"`))
	if !ok {
		return AdminResponse{Error: "missing cmd"}
	}
	reason, _ := scanner.ScanStringField(request, []byte(`"reason"`))
	operator, _ := scanner.ScanStringField(request, []byte(`"operator"`))

	switch string(cmd) {
	case "status":
		return AdminResponse{
			OK:         true,
			KillSwitch: string(a.sup.KillSwitch().State()),
			Position:   a.sup.Position(),
		}

	case "trip":
		detail := string(reason)
		if detail == "" {
			detail = "manual trip"
		}
		a.sup.Trip(schema.ReasonKillSwitchActive, detail)
		return AdminResponse{OK: true, KillSwitch: string(a.sup.KillSwitch().State())}

	case "reset":
		if err := a.sup.ResetKillSwitch(ctx, string(reason), string(operator)); err != nil {
			return AdminResponse{
				Error:      err.Error(),
				KillSwitch: string(a.sup.KillSwitch().State()),
			}
		}
		return AdminResponse{OK: true, KillSwitch: string(a.sup.KillSwitch().State())}

	case "reconcile":
		report, err := a.sup.Reconcile(ctx)
		if err != nil {
			return AdminResponse{Error: err.Error()}
		}
		return AdminResponse{OK: !report.Mismatch, Mismatch: report.Mismatch}
	}
	return AdminResponse{Error: "unknown cmd: " + string(cmd)}
}

// AdminCall sends one command line to an admin socket and decodes the
// response. The control CLI uses it; tests use it against Serve.
func AdminCall(path string, request any) (AdminResponse, error) {
	client, err := uds.NewClient(path)
	if err != nil {
		return AdminResponse{}, err
	}
	conn, err := client.Dial()
	if err != nil {
		return AdminResponse{}, err
	}
	defer conn.Close()

	payload, err := json.Marshal(request)
	if err != nil {
		return AdminResponse{}, err
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return AdminResponse{}, err
	}

	reader := bufio.NewScanner(conn)
	if !reader.Scan() {
		if err := reader.Err(); err != nil {
			return AdminResponse{}, err
		}
		return AdminResponse{}, net.ErrClosed
	}
	var response AdminResponse
	if err := json.Unmarshal(reader.Bytes(), &response); err != nil {
		return AdminResponse{}, err
	}
	return response, nil
}
