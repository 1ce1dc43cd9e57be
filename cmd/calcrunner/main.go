// Command calcrunner runs queued calculations from a shared run directory
// and archives their results into a record library.
package main

func main() {
	Execute()
}
