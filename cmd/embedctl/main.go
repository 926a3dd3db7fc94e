// Command embedctl creates, edits, shows and destroys entities with embedded
// relations against the configured persistence backend.
//
// Configuration comes from EMBED_* environment variables, optionally seeded
// from a .env file. Flags override the backend and output format:
//
//	embedctl demo --backend sqlite
//	embedctl apply invoice -f invoice.yaml
//	embedctl show invoice <id> -o yaml --include items
//	embedctl destroy invoice <id>
//	embedctl schema --create
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		os.Exit(1)
	}
}
