// Surface - external attack surface scanner
// Upload. Scan. Report.
package main

func main() {
	Execute()
}
