package server

import (
	"sort"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/protocol"
)

// toolRegistration pairs a tool definition with its handler.
type toolRegistration struct {
	tool    protocol.Tool
	handler protocol.ToolHandler
}

// resourceRegistration pairs a resource definition with its handler.
type resourceRegistration struct {
	resource protocol.Resource
	handler  protocol.ResourceHandler
}

// RegisterTool registers a capability. Registration is immediately visible
// to subsequent dispatches; an existing tool with the same name is replaced.
func (s *Server) RegisterTool(tool protocol.Tool, handler protocol.ToolHandler) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.tools[tool.Name] = &toolRegistration{tool: tool, handler: handler}
}

// UnregisterTool removes a capability. Returns whether it was registered.
func (s *Server) UnregisterTool(name string) bool {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	_, ok := s.tools[name]
	delete(s.tools, name)
	return ok
}

// RegisterResource registers a readable resource keyed by URI.
func (s *Server) RegisterResource(resource protocol.Resource, handler protocol.ResourceHandler) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.resources[resource.URI] = &resourceRegistration{resource: resource, handler: handler}
}

// UnregisterResource removes a resource. Returns whether it was registered.
func (s *Server) UnregisterResource(uri string) bool {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	_, ok := s.resources[uri]
	delete(s.resources, uri)
	return ok
}

// Tools returns the registered tool definitions ordered by name.
func (s *Server) Tools() []protocol.Tool {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	tools := make([]protocol.Tool, 0, len(s.tools))
	for _, reg := range s.tools {
		tools = append(tools, reg.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Resources returns the registered resource definitions ordered by URI.
func (s *Server) Resources() []protocol.Resource {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	resources := make([]protocol.Resource, 0, len(s.resources))
	for _, reg := range s.resources {
		resources = append(resources, reg.resource)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return resources
}

// lookupTool resolves a tool registration under the read lock. The dispatch
// sees a consistent name-to-handler snapshot at resolution time.
func (s *Server) lookupTool(name string) (*toolRegistration, bool) {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	reg, ok := s.tools[name]
	return reg, ok
}

func (s *Server) lookupResource(uri string) (*resourceRegistration, bool) {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	reg, ok := s.resources[uri]
	return reg, ok
}
