// Command ydoc inspects update files and keeps document history in an archive.
package main

func main() {
	Execute()
}
