package pick

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/draftroom/go/internal/apperr"
	"github.com/mcdev12/draftroom/go/internal/auth"
)

// Connect procedures served by the pick service.
const (
	PickServiceName       = "draft.v1.PickService"
	SubmitPickProcedure   = "/" + PickServiceName + "/SubmitPick"
	TickProcedure         = "/" + PickServiceName + "/Tick"
	pickServicePathPrefix = "/" + PickServiceName + "/"
)

// jsonCodec replaces connect's protobuf-bound JSON codec so plain structs can
// travel over the Connect protocol.
type jsonCodec struct{}

func (jsonCodec) Name() string                    { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// RPCSubmitPickRequest is the SubmitPick message. The user comes from the
// caller's token.
type RPCSubmitPickRequest struct {
	DraftID      int64  `json:"draft_id"`
	NominationID int64  `json:"nomination_id"`
	RequestID    string `json:"request_id"`
}

// RPCSubmitPickResponse is the SubmitPick reply.
type RPCSubmitPickResponse struct {
	PickResult
}

// RPCTickRequest is the Tick message.
type RPCTickRequest struct {
	DraftID int64 `json:"draft_id"`
}

type rpcServer struct {
	app   PickApp
	authn *auth.Authenticator
}

// NewRPCHandler returns the mount path and handler for the Connect service.
func NewRPCHandler(app PickApp, authn *auth.Authenticator, opts ...connect.HandlerOption) (string, http.Handler) {
	s := &rpcServer{app: app, authn: authn}
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(SubmitPickProcedure, connect.NewUnaryHandler(SubmitPickProcedure, s.SubmitPick, opts...))
	mux.Handle(TickProcedure, connect.NewUnaryHandler(TickProcedure, s.Tick, opts...))
	return pickServicePathPrefix, mux
}

func (s *rpcServer) principal(h http.Header) (auth.Principal, error) {
	p, err := s.authn.FromHeader(h)
	if err != nil {
		return auth.Principal{}, connect.NewError(connect.CodeUnauthenticated, err)
	}
	return p, nil
}

func (s *rpcServer) SubmitPick(ctx context.Context, req *connect.Request[RPCSubmitPickRequest]) (*connect.Response[RPCSubmitPickResponse], error) {
	p, err := s.principal(req.Header())
	if err != nil {
		return nil, err
	}
	res, err := s.app.SubmitPick(ctx, SubmitPickRequest{
		DraftID:      req.Msg.DraftID,
		UserID:       p.UserID,
		NominationID: req.Msg.NominationID,
		RequestID:    req.Msg.RequestID,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RPCSubmitPickResponse{PickResult: *res}), nil
}

func (s *rpcServer) Tick(ctx context.Context, req *connect.Request[RPCTickRequest]) (*connect.Response[TickResult], error) {
	if _, err := s.principal(req.Header()); err != nil {
		return nil, err
	}
	res, err := s.app.Tick(ctx, req.Msg.DraftID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(res), nil
}

var connectCodes = map[int]connect.Code{
	http.StatusBadRequest:      connect.CodeInvalidArgument,
	http.StatusUnauthorized:    connect.CodeUnauthenticated,
	http.StatusForbidden:       connect.CodePermissionDenied,
	http.StatusNotFound:        connect.CodeNotFound,
	http.StatusConflict:        connect.CodeFailedPrecondition,
	http.StatusTooManyRequests: connect.CodeResourceExhausted,
}

// toConnectError keeps the domain code in the error metadata so clients can
// tell conflict reasons apart.
func toConnectError(err error) error {
	code, ok := connectCodes[apperr.StatusOf(err)]
	if !ok {
		code = connect.CodeInternal
	}
	cerr := connect.NewError(code, err)
	cerr.Meta().Set("X-Error-Code", string(apperr.CodeOf(err)))
	return cerr
}

// TickClient calls Tick on a remote pick service.
type TickClient struct {
	client *connect.Client[RPCTickRequest, TickResult]
	token  func() (string, error)
}

// NewTickClient creates a client for baseURL. token supplies the bearer token
// for each call.
func NewTickClient(httpClient connect.HTTPClient, baseURL string, token func() (string, error)) *TickClient {
	return &TickClient{
		client: connect.NewClient[RPCTickRequest, TickResult](httpClient, baseURL+TickProcedure, connect.WithCodec(jsonCodec{})),
		token:  token,
	}
}

func (c *TickClient) Tick(ctx context.Context, draftID int64) (*TickResult, error) {
	req := connect.NewRequest(&RPCTickRequest{DraftID: draftID})
	if c.token != nil {
		t, err := c.token()
		if err != nil {
			return nil, err
		}
		req.Header().Set("Authorization", "Bearer "+t)
	}
	res, err := c.client.CallUnary(ctx, req)
	if err != nil {
		var cerr *connect.Error
		if errors.As(err, &cerr) {
			if code := cerr.Meta().Get("X-Error-Code"); code != "" {
				return nil, apperr.Wrap(apperr.Code(code), err, cerr.Message())
			}
		}
		return nil, err
	}
	return res.Msg, nil
}
