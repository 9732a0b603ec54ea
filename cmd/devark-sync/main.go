// devark-sync is the hook binary Claude Code invokes on prompt submission
// and turn completion. It appends one queue record and always replies
// {"continue": true}; failures go to stderr and never block the editor.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/devark-ai/devark/internal/config"
	"github.com/devark-ai/devark/internal/hookio"
)

func main() {
	trigger := flag.String("hook-trigger", "", "hook event name (UserPromptSubmit or Stop)")
	flag.Parse()

	if err := hookio.Run(*trigger, config.QueuePath(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "devark-sync: %v\n", err)
	}
}
