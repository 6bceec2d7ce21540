package main

import "fx-price-feeder/internal/cli"

func main() {
	cli.Execute()
}
