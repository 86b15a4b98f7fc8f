package main

import (
	"flag"
	"fmt"
	"maps"
	"os"
	"runtime"
	"slices"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/dejpeg/internal/inference"
	"github.com/dudu/dejpeg/internal/pipeline"
	"github.com/dudu/dejpeg/internal/profile"
)

func main() {
	libPath := flag.String("ort-lib", "", "ONNX Runtime shared library (default $"+inference.LibraryEnv+")")
	channels := flag.Int("channels", 0, "Channel override for dynamic channel axes")
	tile := flag.Int("tile", 0, "Tile size override")
	overlap := flag.Int("overlap", 0, "Tile overlap override")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: modelinfo [options] <model.onnx>")
		fmt.Fprintln(os.Stderr, "\nPrints the tensors, tiling profile and session policy of a model.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	modelPath := flag.Arg(0)

	if err := inference.Initialize(*libPath); err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Printf("\nSet --ort-lib or $%s to the ONNX Runtime shared library.\n", inference.LibraryEnv)
		os.Exit(1)
	}
	defer inference.Shutdown()

	policy := inference.PolicyFor(modelPath, runtime.NumCPU())
	session, err := inference.Load(modelPath, policy)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer session.Close()

	inputs, outputs := session.Introspect()

	fmt.Printf("Model: %s\n", session.Name())
	fmt.Printf("\nInputs (%d):\n", len(inputs))
	for _, name := range slices.Sorted(maps.Keys(inputs)) {
		fmt.Printf("  %s\n", inputs[name])
	}
	fmt.Printf("\nOutputs (%d):\n", len(outputs))
	for _, spec := range outputs {
		fmt.Printf("  %s\n", spec)
	}

	fmt.Printf("\nSession policy:\n")
	fmt.Printf("  Intra-op threads: %d\n", policy.IntraOpThreads)
	fmt.Printf("  Inter-op threads: %d\n", policy.InterOpThreads)
	fmt.Printf("  Optimization:     %s\n", policy.Optimization)

	fmt.Printf("\nProfile:\n")
	prof, err := profile.Derive(session.Name(), inputs, outputs, profile.Overrides{
		TileMax:  *tile,
		Overlap:  *overlap,
		Channels: *channels,
	})
	if err != nil {
		fmt.Printf("  Not usable for restoration: %v\n", err)
	} else {
		printProfile(prof)
	}

	fmt.Println("\nMetadata:")
	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		fmt.Printf("  (Could not read metadata: %v)\n", err)
		return
	}
	defer metadata.Destroy()
	if producer, err := metadata.GetProducerName(); err == nil {
		fmt.Printf("  Producer: %s\n", producer)
	}
	if version, err := metadata.GetVersion(); err == nil {
		fmt.Printf("  Version: %d\n", version)
	}
	if domain, err := metadata.GetDomain(); err == nil {
		fmt.Printf("  Domain: %s\n", domain)
	}
	if desc, err := metadata.GetDescription(); err == nil && desc != "" {
		fmt.Printf("  Description: %s\n", desc)
	}
}

func printProfile(prof profile.Profile) {
	fmt.Printf("  Family:         %s\n", prof.Family)
	fmt.Printf("  Image input:    %s (%d channel(s))\n", prof.PrimaryInput, prof.Channels)
	fmt.Printf("  Image output:   #%d (%d channel(s))\n", prof.PrimaryOutput, prof.OutputChannels)
	if prof.HasStrength() {
		fmt.Printf("  Strength input: %s\n", prof.StrengthInput)
	} else {
		fmt.Printf("  Strength input: none\n")
	}
	fmt.Printf("  Tile:           %d (overlap %d)\n", prof.TileMax, prof.Overlap)
	if prof.Static() {
		fmt.Printf("  Static extent:  %dx%d\n", prof.StaticWidth, prof.StaticHeight)
	}

	p := pipeline.New(pipeline.DefaultConfig())
	for _, side := range []int{512, 1024, 2048, 4096} {
		mode := "tiled"
		if p.Direct(prof, side, side) {
			mode = "direct"
		}
		fmt.Printf("  %4dx%-4d       %s\n", side, side, mode)
	}
}
