// Command requestsink runs the request sink server.
package main

import "github.com/requestsink/requestsink/cmd/requestsink/cmd"

func main() {
	cmd.Execute()
}
