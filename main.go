// Command tnet trains a layered network on an utterance archive with several
// threads, or evaluates it in cross-validation and forward modes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"tnet/device"
	"tnet/neuralnet"
	"tnet/platform"
)

type options struct {
	net, init, out, data string
	objective            string
	lrFactors            string
	classes              int
	binary, forward      bool
	checkpoint           int
	cfg                  platform.Config
}

func parseFlags(args []string) (*options, error) {
	o := &options{cfg: platform.DefaultConfig()}
	fs := flag.NewFlagSet("tnet", flag.ContinueOnError)
	fs.StringVar(&o.net, "net", "", "network to start from")
	fs.StringVar(&o.init, "init", "", "create a sigmoid network with these comma separated layer widths instead of -net")
	fs.StringVar(&o.out, "out", "", "where to save the trained network")
	fs.StringVar(&o.data, "data", "", "utterance archive")
	fs.StringVar(&o.objective, "objective", "xent", "objective function: xent or mse")
	fs.StringVar(&o.lrFactors, "lrfactors", "", "comma separated learning rate factors, one per trained component")
	fs.IntVar(&o.classes, "classes", 0, "number of classes in the archive labels, default the network output width")
	fs.BoolVar(&o.binary, "binary", false, "save the network in the binary format")
	fs.BoolVar(&o.forward, "forward", false, "only propagate whole utterances and report the objective")
	fs.IntVar(&o.checkpoint, "checkpoint", 0, "save the network to -out every this many bunches")
	fs.BoolVar(&o.cfg.CrossValidate, "cv", false, "cross-validation: evaluate without updating weights")
	fs.Float64Var(&o.cfg.LearnRate, "lr", o.cfg.LearnRate, "learning rate")
	fs.Float64Var(&o.cfg.Momentum, "momentum", o.cfg.Momentum, "momentum")
	fs.Float64Var(&o.cfg.WeightCost, "weightcost", o.cfg.WeightCost, "L2 weight cost")
	fs.IntVar(&o.cfg.CacheSize, "cachesize", o.cfg.CacheSize, "frames cached across all threads")
	fs.IntVar(&o.cfg.BunchSize, "bunchsize", o.cfg.BunchSize, "frames per bunch")
	fs.BoolVar(&o.cfg.Randomize, "randomize", o.cfg.Randomize, "shuffle the cache")
	fs.Int64Var(&o.cfg.Seed, "seed", o.cfg.Seed, "random seed")
	fs.IntVar(&o.cfg.Threads, "threads", 0, "worker threads, default one per physical core")
	fs.BoolVar(&o.cfg.TraceCache, "tracecache", false, "log cache state transitions")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if (o.net == "") == (o.init == "") {
		return nil, fmt.Errorf("exactly one of -net and -init is required")
	}
	if o.data == "" {
		return nil, fmt.Errorf("-data is required")
	}
	if o.checkpoint > 0 && o.out == "" {
		return nil, fmt.Errorf("-checkpoint needs -out")
	}
	factors, err := parseList(o.lrFactors, strconv.ParseFloat)
	if err != nil {
		return nil, fmt.Errorf("-lrfactors: %w", err)
	}
	o.cfg.LearnRateFactors = factors
	o.cfg.CheckpointEvery = o.checkpoint
	return o, nil
}

func parseList[T any](s string, parse func(string, int) (T, error)) ([]T, error) {
	if s == "" {
		return nil, nil
	}
	var out []T
	for _, f := range strings.Split(s, ",") {
		v, err := parse(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// newNetwork builds affine layers of the given widths with sigmoids between
// them and a softmax on top.
func newNetwork(widths []int, seed int64) (*neuralnet.Network, error) {
	if len(widths) < 2 {
		return nil, neuralnet.ConfigError("need at least an input and an output width, got %v", widths)
	}
	rng := rand.New(rand.NewSource(seed))
	n, _ := neuralnet.NewNetwork()
	for i := 1; i < len(widths); i++ {
		if widths[i-1] <= 0 || widths[i] <= 0 {
			return nil, neuralnet.ConfigError("non-positive layer width in %v", widths)
		}
		if err := n.Append(neuralnet.NewAffine(widths[i-1], widths[i], rng)); err != nil {
			return nil, err
		}
		var act neuralnet.Component = neuralnet.NewSigmoid(widths[i])
		if i == len(widths)-1 {
			act = neuralnet.NewSoftmax(widths[i])
		}
		if err := n.Append(act); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func loadNetwork(o *options) (*neuralnet.Network, error) {
	if o.net != "" {
		return neuralnet.LoadFile(o.net)
	}
	widths, err := parseList(o.init, func(s string, _ int) (int, error) { return strconv.Atoi(s) })
	if err != nil {
		return nil, fmt.Errorf("-init: %w", err)
	}
	return newNetwork(widths, o.cfg.Seed)
}

// forward propagates every utterance in blocks and evaluates the objective.
func forward(master *neuralnet.Network, objective neuralnet.Objective, pairs []platform.Pair, dev *device.Context) error {
	master.SetBlockSize(dev.BlockSize(8 * max(master.InputDim(), master.OutputDim())))
	left, right := master.Context()
	var out, e mat.Dense
	for i, p := range pairs {
		if err := master.Feedforward(p.Features, &out, left, right); err != nil {
			return fmt.Errorf("utterance %d: %w", i, err)
		}
		if err := objective.Evaluate(&out, p.Targets, &e); err != nil {
			return fmt.Errorf("utterance %d: %w", i, err)
		}
	}
	return nil
}

func run(o *options) error {
	dev := device.New(device.WithThreads(o.cfg.Threads))
	log.Printf("device: %s", dev)

	master, err := loadNetwork(o)
	if err != nil {
		return err
	}
	log.Printf("network:\n%s", master)
	objective, err := neuralnet.NewObjective(o.objective)
	if err != nil {
		return err
	}
	classes := o.classes
	if classes == 0 {
		classes = master.OutputDim()
	}
	pairs, err := loadArchive(o.data, classes)
	if err != nil {
		return err
	}
	log.Printf("loaded %d utterances from %s", len(pairs), o.data)

	if o.forward {
		if err := forward(master, objective, pairs, dev); err != nil {
			return err
		}
		log.Print(objective.Report())
		return nil
	}

	var opts []platform.Option
	opts = append(opts, platform.WithContext(dev))
	if o.checkpoint > 0 {
		opts = append(opts, platform.WithCheckpoint(func(n *neuralnet.Network, bunches int) error {
			log.Printf("checkpoint after %d bunches", bunches)
			return n.SaveFile(o.out, o.binary)
		}))
	}
	trainer, err := platform.New(master, objective, o.cfg, opts...)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	stats, err := trainer.Train(ctx, platform.NewMemorySource(pairs))
	if err != nil {
		return err
	}
	log.Print(stats)
	log.Printf("profile:\n%s", dev.Report())

	if o.out != "" && !o.cfg.CrossValidate {
		if err := master.SaveFile(o.out, o.binary); err != nil {
			return err
		}
		log.Printf("saved %s", o.out)
	}
	return nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		log.Fatal(err)
	}
	if err := run(o); err != nil {
		log.Fatal(err)
	}
}
