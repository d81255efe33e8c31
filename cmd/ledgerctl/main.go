package main

import "github.com/kursadbilgin/notification-ledger/internal/cli"

func main() {
	cli.Execute()
}
