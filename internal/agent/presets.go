package agent

import "github.com/haasonsaas/genflow/internal/mcp"

// GitHubConfig returns an agent configuration bound to the GitHub MCP
// server.
func GitHubConfig(name string) Config {
	if name == "" {
		name = "github_agent"
	}
	return Config{
		Name:        name,
		Description: "Agent with GitHub integration",
		Servers: []mcp.ServerConfig{
			{Command: "mcp-server-github"},
		},
	}
}

// FilesystemConfig returns an agent configuration bound to the
// filesystem MCP server rooted at rootPath.
func FilesystemConfig(name, rootPath string) Config {
	if name == "" {
		name = "filesystem_agent"
	}
	if rootPath == "" {
		rootPath = "/tmp"
	}
	return Config{
		Name:        name,
		Description: "Agent with filesystem access",
		Servers: []mcp.ServerConfig{
			{Command: "mcp-server-filesystem", Args: []string{"--root", rootPath}},
		},
	}
}
