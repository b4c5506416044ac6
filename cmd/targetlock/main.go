// Command targetlock tracks a planar target in a camera stream and serves the
// annotated frames over HTTP.
package main

func main() {
	Execute()
}
