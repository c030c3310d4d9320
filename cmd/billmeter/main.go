// Command billmeter stores metered billing events and answers price queries.
package main

func main() {
	Execute()
}
