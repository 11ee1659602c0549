package main

import "studio-backend/internal/cli"

func main() {
	cli.Execute()
}
