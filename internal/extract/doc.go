// Package extract derives analysis artifacts from retrieved media: uniformly
// sampled video frames, fixed-length audio chunks, and optional transcripts.
package extract
