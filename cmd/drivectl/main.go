// drivectl is the command-line companion of the DriveCMS server.
package main

import "github.com/fruitsalade/drivecms/cmd/drivectl/cmd"

func main() {
	cmd.Execute()
}
