package main

import "github.com/andresmejia3/simpsons/cmd"

func main() {
	cmd.Execute()
}
