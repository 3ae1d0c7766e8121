// missionctl builds compliance bundles and runs remediation missions
// against them.
package main

import "github.com/ppiankov/missionctl/internal/cli"

func main() {
	cli.Execute()
}
