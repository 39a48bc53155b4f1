package main // Entry point package

import "github.com/iliyamo/storefront/internal/cli" // cobra commands: serve, migrate, worker

func main() {
	cli.Execute()
}
