// Command brainsharer turns annotation layers drawn in the viewer into
// stored sessions, label volumes and precomputed segmentations.
package main

func main() {
	Execute()
}
