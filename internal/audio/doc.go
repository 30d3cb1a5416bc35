// Package audio handles sample buffers, WAV codec work, input probing, and
// output encoding. WAV is parsed and written natively; mp3 and ogg go through
// an ffmpeg subprocess with a fixed fallback chain for ogg export.
package audio
