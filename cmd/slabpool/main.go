// Command slabpool drives slab pools from the command line: the reference
// allocate/release scenario, concurrent churn, and snapshot write/inspect.
package main

func main() {
	execute()
}
