// Command nettables compiles table schemas and runs tables and configuration resources
// against a device.
package main

func main() {
	Execute()
}
