// Engine simulator: a development stand-in for the model runner. It accepts
// the service's conversion requests and streams back frames synthesized from
// the source recording, so the full pipeline can run locally without a GPU.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/protocol"
)

type statusResponse struct {
	Ready   bool   `json:"ready"`
	Backend string `json:"backend"`
}

var prepared atomic.Bool

func writeStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		Ready:   prepared.Load(),
		Backend: "simulator",
	})
}

func prepareHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var params struct {
		MaxBatch  int    `json:"max_batch"`
		MaxSeqLen int    `json:"max_seq_len"`
		Precision string `json:"precision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid prepare request", http.StatusBadRequest)
		return
	}

	prepared.Store(true)
	log.Printf("🔧 PREPARE: max_batch=%d max_seq_len=%d precision=%s",
		params.MaxBatch, params.MaxSeqLen, params.Precision)

	writeStatus(w)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w)
}

func convertHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !prepared.Load() {
		http.Error(w, "Engine not prepared", http.StatusConflict)
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	sourceData, err := readAudioPart(r, "source_audio")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Target is validated for presence only, the simulator does not clone voices
	if _, err := readAudioPart(r, "target_audio"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	diffusionSteps := r.FormValue("diffusion_steps")
	lengthAdjust := parseFloat64(r.FormValue("length_adjust"))

	log.Printf("🎤 CONVERT: source=%d bytes diffusion_steps=%s length_adjust=%.2f",
		len(sourceData), diffusionSteps, lengthAdjust)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)

	samples, sampleRate, err := audio.DecodeWAV(sourceData)
	if err != nil {
		// The stream has started, so failures travel as error frames
		protocol.WriteError(w, fmt.Sprintf("cannot decode source audio: %v", err))
		log.Printf("❌ CONVERT failed: %v", err)
		return
	}

	out := stretch(samples, lengthAdjust)
	if len(out) == 0 {
		protocol.WriteError(w, "source audio is empty")
		log.Printf("❌ CONVERT failed: empty source audio")
		return
	}

	flusher, _ := w.(http.Flusher)

	// A few partial renders, then the complete result
	const chunkCount = 3
	per := len(out) / chunkCount
	if per > 0 {
		for i := 0; i < chunkCount; i++ {
			end := (i + 1) * per
			if i == chunkCount-1 {
				end = len(out)
			}
			chunkWAV, err := audio.EncodeWAV(out[i*per:end], sampleRate)
			if err != nil {
				log.Printf("❌ Chunk encode failed: %v", err)
				return
			}
			if err := protocol.WriteChunk(w, chunkWAV); err != nil {
				log.Printf("❌ Chunk write failed: %v", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			// Simulate inference time
			time.Sleep(100 * time.Millisecond)
		}
	}

	if err := protocol.WriteFinal(w, sampleRate, audio.SamplesToBytes(out)); err != nil {
		log.Printf("❌ Final write failed: %v", err)
		return
	}

	log.Printf("✅ CONVERT done: %d samples at %d Hz streamed", len(out), sampleRate)
}

// readAudioPart drains one uploaded file from the multipart form
func readAudioPart(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s file is required", field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("error reading %s", field)
	}
	return data, nil
}

// stretch resamples by nearest neighbor so length_adjust has a visible effect
func stretch(samples []int16, factor float64) []int16 {
	if factor <= 0 || factor == 1.0 || len(samples) == 0 {
		return samples
	}

	out := make([]int16, int(float64(len(samples))*factor))
	for i := range out {
		idx := int(float64(i) / factor)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		out[i] = samples[idx]
	}
	return out
}

func parseFloat64(s string) float64 {
	var val float64
	fmt.Sscanf(s, "%f", &val)
	return val
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	flag.Parse()

	http.HandleFunc("/v1/prepare", prepareHandler)
	http.HandleFunc("/v1/convert", convertHandler)
	http.HandleFunc("/v1/health", healthHandler)

	log.Printf("🚀 Engine simulator starting on %s", *addr)
	log.Printf("📡 Endpoint: http://localhost%s/v1/convert", *addr)
	log.Println("💡 Update your config to use: endpoint: http://localhost:9000")

	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
