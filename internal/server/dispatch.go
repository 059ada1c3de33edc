package server

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/protocol"
)

// Capability is the list-capabilities result item.
type Capability struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	ParamSchema map[string]interface{} `json:"paramSchema"`
}

// handleMessage is the manager's message sink. Each request dispatches on its
// own goroutine so a slow handler blocks only its own task.
func (s *Server) handleMessage(connID, channel string, req *protocol.Request) {
	s.touchActivity(connID, channel)

	s.stateMu.Lock()
	ctx := s.runCtx
	manager := s.manager
	s.stateMu.Unlock()
	if ctx == nil || manager == nil {
		return
	}

	s.logger.Request(ctx, req.Method, req.ID, channel, connID)

	go func() {
		resp := s.Dispatch(ctx, req)
		if err := manager.Send(connID, resp); err != nil {
			s.logger.WithError(err).Warn("response undeliverable",
				"connection_id", connID,
				"channel", channel,
				"method", req.Method,
			)
		}
	}()
}

// Dispatch resolves and executes one request, returning the correlated
// response. Exactly one metrics observation is recorded per call, and the
// response id always equals the request id, generated when the caller
// omitted one.
func (s *Server) Dispatch(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	start := time.Now()
	id := req.ID
	if id == nil {
		id = uuid.NewString()
	}

	defer func() {
		duration := time.Since(start)
		if resp == nil {
			// A panic is unwinding through Dispatch; record the failed
			// dispatch and let it propagate.
			s.sink.ObserveDispatch(req.Method, duration, false)
			return
		}
		s.sink.ObserveDispatch(req.Method, duration, resp.Error == nil)
		if resp.Error != nil {
			s.logger.ResponseError(ctx, req.Method, id, resp.Error, duration)
		} else {
			s.logger.Response(ctx, req.Method, id, duration)
		}
	}()

	switch req.Method {
	case "list-capabilities":
		return s.listCapabilities(id)
	case "invoke-capability":
		return s.invokeCapability(ctx, id, req.Params)
	case "list-resources":
		return s.listResources(id)
	case "read-resource":
		return s.readResource(ctx, id, req.Params)
	case "server-info":
		return s.serverInfo(id)
	default:
		return protocol.NewErrorResponse(id,
			protocol.NewError(protocol.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil))
	}
}

func (s *Server) listCapabilities(id interface{}) *protocol.Response {
	tools := s.Tools()
	capabilities := make([]Capability, 0, len(tools))
	for _, tool := range tools {
		capabilities = append(capabilities, Capability{
			Name:        tool.Name,
			Description: tool.Description,
			ParamSchema: tool.InputSchema,
		})
	}
	return protocol.NewResponse(id, map[string]interface{}{"capabilities": capabilities})
}

func (s *Server) invokeCapability(ctx context.Context, id interface{}, params interface{}) *protocol.Response {
	paramMap, _ := params.(map[string]interface{})

	name, _ := paramMap["name"].(string)
	if name == "" {
		return protocol.NewErrorResponse(id,
			protocol.NewError(protocol.CodeToolNameRequired, "Tool name required", nil))
	}

	reg, ok := s.lookupTool(name)
	if !ok {
		return protocol.NewErrorResponse(id,
			protocol.NewError(protocol.CodeToolNotFound, fmt.Sprintf("Unknown tool: %s", name), nil))
	}

	args, _ := paramMap["arguments"].(map[string]interface{})

	result, err := s.invokeHandler(ctx, name, reg, args)
	if err != nil {
		if protoErr, ok := err.(*protocol.Error); ok {
			return protocol.NewErrorResponse(id, protoErr)
		}
		return protocol.NewErrorResponse(id,
			protocol.NewError(protocol.CodeInternalError, err.Error(), nil))
	}
	return protocol.NewResponse(id, result)
}

// invokeHandler runs a tool handler, converting a panic into an error so a
// misbehaving capability never takes the server down.
func (s *Server) invokeHandler(ctx context.Context, name string, reg *toolRegistration, args map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			s.logger.Error("panic in tool handler",
				"tool", name,
				"panic", rec,
				"stack", string(buf[:n]),
			)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return reg.handler.Handle(ctx, args)
}

func (s *Server) listResources(id interface{}) *protocol.Response {
	return protocol.NewResponse(id, map[string]interface{}{"resources": s.Resources()})
}

func (s *Server) readResource(ctx context.Context, id interface{}, params interface{}) *protocol.Response {
	paramMap, _ := params.(map[string]interface{})

	uri, _ := paramMap["uri"].(string)
	if uri == "" {
		return protocol.NewErrorResponse(id,
			protocol.NewError(protocol.CodeInvalidParams, "URI parameter required", nil))
	}

	reg, ok := s.lookupResource(uri)
	if !ok {
		return protocol.NewErrorResponse(id,
			protocol.NewError(protocol.CodeResourceNotFound, fmt.Sprintf("Resource not found: %s", uri), nil))
	}

	contents, err := s.readHandler(ctx, uri, reg)
	if err != nil {
		return protocol.NewErrorResponse(id,
			protocol.NewError(protocol.CodeInternalError, err.Error(), nil))
	}
	return protocol.NewResponse(id, map[string]interface{}{"contents": contents})
}

// readHandler runs a resource handler, converting a panic into an error so a
// misbehaving resource never takes the server down.
func (s *Server) readHandler(ctx context.Context, uri string, reg *resourceRegistration) (contents []protocol.Content, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			s.logger.Error("panic in resource handler",
				"uri", uri,
				"panic", rec,
				"stack", string(buf[:n]),
			)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return reg.handler.Handle(ctx, uri)
}

func (s *Server) serverInfo(id interface{}) *protocol.Response {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	tools := s.Tools()
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}

	info := protocol.ServerInfo{
		Name:         s.cfg.Server.Name,
		Version:      s.cfg.Server.Version,
		Description:  s.cfg.Server.Description,
		Capabilities: names,
		Uptime:       s.Uptime().Seconds(),
		MemoryUsage: map[string]uint64{
			"alloc":      mem.Alloc,
			"totalAlloc": mem.TotalAlloc,
			"sys":        mem.Sys,
			"numGC":      uint64(mem.NumGC),
		},
	}
	return protocol.NewResponse(id, info)
}
