package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/CodecFlow/codecflow/pkg/media/validate"
)

// buildConcat replaces the whole argument vector. Demuxer mode copies
// streams through a list file; filter mode re-encodes through a concat
// filter graph.
func (b *Builder) buildConcat(req *Request, op *validate.Concat) (*Invocation, error) {
	if len(op.Inputs) < 2 {
		return nil, fmt.Errorf("concat requires at least 2 inputs")
	}

	if op.Mode == "filter" {
		args := []string{"ffmpeg", "-y"}
		for _, input := range op.Inputs {
			args = append(args, "-i", input)
		}

		n := len(op.Inputs)
		var graph strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&graph, "[%d:v][%d:a]", i, i)
		}
		fmt.Fprintf(&graph, "concat=n=%d:v=1:a=1[outv][outa]", n)

		args = append(args,
			"-filter_complex", graph.String(),
			"-map", "[outv]", "-map", "[outa]")
		args = append(args, globalFlags(req.Options)...)
		args = append(args, req.OutputPath)
		return &Invocation{Args: args}, nil
	}

	if req.ConcatListPath == "" {
		return nil, fmt.Errorf("demuxer concat requires a list file path")
	}

	var list strings.Builder
	for _, input := range op.Inputs {
		list.WriteString("file " + strconv.Quote(input) + "\n")
	}

	args := []string{
		"ffmpeg", "-y",
		"-f", "concat", "-safe", "0",
		"-i", req.ConcatListPath,
		"-c", "copy",
	}
	args = append(args, globalFlags(req.Options)...)
	args = append(args, req.OutputPath)

	return &Invocation{Args: args, ConcatList: list.String()}, nil
}
