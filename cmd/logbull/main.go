package main

import "github.com/SalmanGits/Log-bull/internal/cli"

func main() {
	cli.Execute()
}
