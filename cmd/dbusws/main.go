// Package main is the entry point for the dbusws bridge.
package main

func main() {
	Execute()
}
