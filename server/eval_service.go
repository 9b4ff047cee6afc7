package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/falcon/compiler"
	"github.com/chazu/falcon/pkg/diag"
	"github.com/chazu/falcon/pkg/falcon"
)

// Procedures of falcon.v1.EvaluationService. Requests and responses are
// google.protobuf.Struct messages, so the service needs no generated code.
const (
	EvaluationServiceName = "falcon.v1.EvaluationService"

	EvaluateProcedure       = "/" + EvaluationServiceName + "/Evaluate"
	CheckSyntaxProcedure    = "/" + EvaluationServiceName + "/CheckSyntax"
	DisassembleProcedure    = "/" + EvaluationServiceName + "/Disassemble"
	CreateSessionProcedure  = "/" + EvaluationServiceName + "/CreateSession"
	DestroySessionProcedure = "/" + EvaluationServiceName + "/DestroySession"
)

type (
	structRequest  = connect.Request[structpb.Struct]
	structResponse = connect.Response[structpb.Struct]
)

// EvalService implements the EvaluationService Connect/gRPC handlers.
type EvalService struct {
	worker   *VMWorker
	sessions *SessionStore
	opts     falcon.Options
}

// NewEvalService creates an EvalService. opts configures the VM of every
// sessionless evaluation; its Output is ignored.
func NewEvalService(worker *VMWorker, sessions *SessionStore, opts falcon.Options) *EvalService {
	return &EvalService{
		worker:   worker,
		sessions: sessions,
		opts:     opts,
	}
}

// Evaluate compiles and runs a program on a fresh VM, or inside a session
// when the request names one. Request: {source, session?}. Response:
// {success, output, error?: {kind, message, line, column}}.
func (s *EvalService) Evaluate(ctx context.Context, req *structRequest) (*structResponse, error) {
	source := stringField(req.Msg, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	var session *Session
	if id := stringField(req.Msg, "session"); id != "" {
		var ok bool
		if session, ok = s.sessions.Get(id); !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
		}
	}

	result, err := s.worker.Do(ctx, func() any {
		var out bytes.Buffer
		var runErr error
		if session != nil {
			runErr = session.Eval.Eval(source, &out)
		} else {
			opts := s.opts
			opts.Output = &out
			runErr = falcon.Run(source, opts)
		}
		return evaluateResult(out.String(), runErr)
	})
	if err != nil {
		return nil, workerError(err)
	}
	return newStructResponse(result.(map[string]any))
}

func evaluateResult(output string, err error) map[string]any {
	fields := map[string]any{
		"success": err == nil,
		"output":  output,
	}
	if err != nil {
		fields["error"] = errorFields(err)
	}
	return fields
}

// CheckSyntax lexes, parses and compiles source without running it.
// Request: {source, session?}; a session's globals and functions count
// as defined.
// Response: {valid, diagnostics: [{kind, message, line, column}],
// warnings: [{message, line, column}]}.
func (s *EvalService) CheckSyntax(ctx context.Context, req *structRequest) (*structResponse, error) {
	source := stringField(req.Msg, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	check := func(source string) ([]compiler.Warning, error) { return falcon.Check(source) }
	if id := stringField(req.Msg, "session"); id != "" {
		session, ok := s.sessions.Get(id)
		if !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
		}
		check = session.Eval.Check
	}

	found, err := check(source)
	diagnostics := []any{}
	if err != nil {
		diagnostics = append(diagnostics, errorFields(err))
	}
	warnings := []any{}
	for _, w := range found {
		warnings = append(warnings, map[string]any{
			"message": w.Msg,
			"line":    w.Pos.Line,
			"column":  w.Pos.Column,
		})
	}
	return newStructResponse(map[string]any{
		"valid":       err == nil,
		"diagnostics": diagnostics,
		"warnings":    warnings,
	})
}

// Disassemble compiles source and returns its listing.
// Response: {listing, instructions, constants, hash, version}.
func (s *EvalService) Disassemble(ctx context.Context, req *structRequest) (*structResponse, error) {
	source := stringField(req.Msg, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	name := stringField(req.Msg, "name")
	if name == "" {
		name = "<request>"
	}

	prog, err := falcon.Compile(source)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	hash, err := prog.Hash()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return newStructResponse(map[string]any{
		"listing":      prog.DisassembleWithName(name),
		"instructions": len(prog.Code),
		"constants":    len(prog.Constants),
		"hash":         hash,
		"version":      int(prog.Version),
	})
}

// CreateSession opens a session. Request: {name?}. Response: {session}.
func (s *EvalService) CreateSession(ctx context.Context, req *structRequest) (*structResponse, error) {
	session := s.sessions.Create(stringField(req.Msg, "name"))
	return newStructResponse(map[string]any{"session": session.ID})
}

// DestroySession closes a session. Request: {session}.
func (s *EvalService) DestroySession(ctx context.Context, req *structRequest) (*structResponse, error) {
	id := stringField(req.Msg, "session")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session is required"))
	}
	if !s.sessions.Destroy(id) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return newStructResponse(map[string]any{})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func stringField(msg *structpb.Struct, name string) string {
	if msg == nil {
		return ""
	}
	return msg.GetFields()[name].GetStringValue()
}

// errorFields renders a pipeline error for a response.
func errorFields(err error) map[string]any {
	fields := map[string]any{
		"kind":    diag.KindOf(err).String(),
		"message": err.Error(),
	}
	var de *diag.Error
	if errors.As(err, &de) {
		fields["message"] = de.Msg
		if de.Pos.IsValid() {
			fields["line"] = de.Pos.Line
			fields["column"] = de.Pos.Column
		}
		if de.Op != "" {
			fields["op"] = de.Op
		}
	}
	return fields
}

func newStructResponse(fields map[string]any) (*structResponse, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func workerError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// register mounts the service's procedures on mux.
func (s *EvalService) register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	mux.Handle(EvaluateProcedure, connect.NewUnaryHandler(EvaluateProcedure, s.Evaluate, opts...))
	mux.Handle(CheckSyntaxProcedure, connect.NewUnaryHandler(CheckSyntaxProcedure, s.CheckSyntax, opts...))
	mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, s.Disassemble, opts...))
	mux.Handle(CreateSessionProcedure, connect.NewUnaryHandler(CreateSessionProcedure, s.CreateSession, opts...))
	mux.Handle(DestroySessionProcedure, connect.NewUnaryHandler(DestroySessionProcedure, s.DestroySession, opts...))
}
