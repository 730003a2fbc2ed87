// Command mender repairs referential integrity in an entity data store.
package main

import "github.com/mesh-intelligence/mender/internal/cli"

func main() {
	cli.Execute()
}
