package pointcloud

import (
	"context"
	"runtime"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultOutlierNeighbors is the neighbor count used by dense mapping.
	DefaultOutlierNeighbors = 10
	// DefaultOutlierStdDevMult is the threshold multiplier used by dense mapping.
	DefaultOutlierStdDevMult = 0.1
)

// RemoveStatisticalOutliers drops points whose mean distance to their k nearest neighbors is more
// than stddevMult population standard deviations above the cloud-wide mean of that statistic.
// Clouds with at most k+1 points are returned as is.
func RemoveStatisticalOutliers(ctx context.Context, points []Point, k int, stddevMult float64) ([]Point, error) {
	if k < 1 {
		return nil, errors.Errorf("neighbor count must be positive, got %d", k)
	}
	if len(points) <= k+1 {
		return points, nil
	}

	meanDistances, err := meanNeighborDistances(ctx, points, k)
	if err != nil {
		return nil, err
	}

	mean, err := stats.Mean(meanDistances)
	if err != nil {
		return nil, err
	}
	stddev, err := stats.StandardDeviationPopulation(meanDistances)
	if err != nil {
		return nil, err
	}
	threshold := mean + stddevMult*stddev

	kept := make([]Point, 0, len(points))
	for i, p := range points {
		if meanDistances[i] <= threshold {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// meanNeighborDistances is a brute force kNN over all pairs, split across CPUs.
func meanNeighborDistances(ctx context.Context, points []Point, k int) (stats.Float64Data, error) {
	out := make(stats.Float64Data, len(points))
	workers := runtime.NumCPU()
	chunk := (len(points) + workers - 1) / workers

	group, groupCtx := errgroup.WithContext(ctx)
	for start := 0; start < len(points); start += chunk {
		lo, hi := start, min(start+chunk, len(points))
		group.Go(func() error {
			distances := make([]float64, 0, len(points)-1)
			for i := lo; i < hi; i++ {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				distances = distances[:0]
				for j := range points {
					if i != j {
						distances = append(distances, points[i].Position.Distance(points[j].Position))
					}
				}
				sort.Float64s(distances)
				sum := 0.0
				for _, d := range distances[:k] {
					sum += d
				}
				out[i] = sum / float64(k)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
