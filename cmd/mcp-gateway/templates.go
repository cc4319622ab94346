package main

import (
	"fmt"
	"os"

	"github.com/tidwall/sjson"
)

// addTemplate writes a canned server entry for the given kind ("stdio" or
// "http") into the mcpServers object of configPath, creating the file if it
// doesn't exist yet. The entry is deliberately filled with placeholder
// values the user is expected to edit.
func addTemplate(configPath, kind string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read %q: %w", configPath, err)
		}
		data = []byte(`{"mcpServers":{}}`)
	}

	var key string
	switch kind {
	case "stdio":
		key = "mcpServers.new-stdio-server"
		data, err = sjson.SetBytes(data, key+".command", "npx")
		if err != nil {
			return err
		}
		data, err = sjson.SetBytes(data, key+".args", []string{"-y", "@example/mcp-server"})
		if err != nil {
			return err
		}
		data, err = sjson.SetBytes(data, key+".env.API_KEY", "YOUR_TOKEN")
	case "http":
		key = "mcpServers.new-http-server"
		data, err = sjson.SetBytes(data, key+".type", "http")
		if err != nil {
			return err
		}
		data, err = sjson.SetBytes(data, key+".url", "https://example.com/mcp")
		if err != nil {
			return err
		}
		data, err = sjson.SetBytes(data, key+".oauth", true)
	default:
		return fmt.Errorf("unknown template %q, expected \"stdio\" or \"http\"", kind)
	}
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0o600)
}
