// Command orca runs natural-language tasks under a resource budget.
package main

func main() {
	Execute()
}
