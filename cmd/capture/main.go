package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"tread-depth/internal/client"
	"tread-depth/internal/core/utils"

	"github.com/schollz/progressbar/v3"
)

func main() {
	server := flag.String("server", "http://localhost:2113", "base url of the tire depth server")
	workers := flag.Int("workers", 4, "number of images to submit concurrently")
	timeout := flag.Duration("timeout", 60*time.Second, "timeout for each capture request")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	c := client.NewClient(*server, *timeout)

	if err := c.Health(ctx); err != nil {
		log.Fatalf("server at %s is not reachable: %v", *server, err)
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("measuring"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	capture := func(ctx context.Context, path string) (string, error) {
		uri, err := client.EncodeFile(path)
		if err != nil {
			return "", err
		}
		res, err := c.Capture(ctx, uri)
		if err != nil {
			return "", err
		}
		return res.PredictedDepth, nil
	}

	results := make(map[string]string, len(files))
	failures := make(map[string]error)
	for task := range utils.RunInPool(ctx, capture, files, *workers) {
		if task.Error != nil {
			failures[task.Input] = task.Error
		} else {
			results[task.Input] = task.Result
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	for _, file := range files {
		if err, ok := failures[file]; ok {
			fmt.Printf("%s: error: %v\n", file, err)
		} else {
			fmt.Printf("%s: %s\n", file, results[file])
		}
	}

	if len(failures) > 0 {
		os.Exit(1)
	}
}
