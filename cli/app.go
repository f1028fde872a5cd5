// Package cli contains the anchormap command line tool for inspecting stored maps and the point
// clouds produced by dense mapping.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/anchormap/pointcloud"
)

const (
	flagConfig    = "config"
	flagDebug     = "debug"
	flagStore     = "store"
	flagStorePath = "store-path"
	flagStoreURI  = "store-uri"
	flagStoreDB   = "store-database"

	flagVoxelSize = "voxel-size"
	flagNeighbors = "neighbors"
	flagStdMult   = "std-mult"
	flagBinary    = "binary"
	flagOutput    = "output"
)

var storeFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  flagStore,
		Usage: "map store backend (memory, mongo, sqlite); overrides the config file",
	},
	&cli.StringFlag{
		Name:  flagStorePath,
		Usage: "sqlite database `FILE`",
	},
	&cli.StringFlag{
		Name:  flagStoreURI,
		Usage: "mongo connection `URI`",
	},
	&cli.StringFlag{
		Name:  flagStoreDB,
		Usage: "mongo database name",
	},
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     flagOutput,
			Aliases:  []string{"o"},
			Usage:    "write the result to `FILE` (.pcd, .las or .txt)",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  flagBinary,
			Usage: "write binary instead of ascii pcd",
		},
	}
}

// NewApp returns the anchormap CLI writing to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "anchormap",
		Usage:           "inspect spatial maps and dense mapping recordings",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:            "maps",
				Usage:           "work with stored maps",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list stored maps",
						Flags:  storeFlags,
						Action: ListMapsAction,
					},
					{
						Name:      "show",
						Usage:     "print the anchors and waypoints of a map",
						ArgsUsage: "<map id>",
						Flags:     storeFlags,
						Action:    ShowMapAction,
					},
					{
						Name:      "delete",
						Usage:     "delete a map with its anchors and waypoints",
						ArgsUsage: "<map id>",
						Flags:     storeFlags,
						Action:    DeleteMapAction,
					},
					{
						Name:      "import",
						Usage:     "store a map read from a json file, replacing any map with the same id",
						ArgsUsage: "<file>",
						Flags:     storeFlags,
						Action:    ImportMapAction,
					},
					{
						Name:      "export",
						Usage:     "print a map as json",
						ArgsUsage: "<map id>",
						Flags:     storeFlags,
						Action:    ExportMapAction,
					},
				},
			},
			{
				Name:            "points",
				Usage:           "work with point clouds (.pcd, .las, COLMAP points3D.txt or a recording archive)",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:      "info",
						Usage:     "print point count, color and bounds",
						ArgsUsage: "<file>",
						Action:    PointsInfoAction,
					},
					{
						Name:      "convert",
						Usage:     "convert a point cloud between formats",
						ArgsUsage: "<file>",
						Flags:     outputFlags(),
						Action:    ConvertPointsAction,
					},
					{
						Name:      "downsample",
						Usage:     "replace the colored points of each voxel with their centroid",
						ArgsUsage: "<file>",
						Flags: append([]cli.Flag{
							&cli.Float64Flag{
								Name:  flagVoxelSize,
								Usage: "voxel edge length in meters",
								Value: 0.05,
							},
						}, outputFlags()...),
						Action: DownsamplePointsAction,
					},
					{
						Name:      "outliers",
						Usage:     "remove points far from their neighbors",
						ArgsUsage: "<file>",
						Flags: append([]cli.Flag{
							&cli.IntFlag{
								Name:  flagNeighbors,
								Usage: "neighbors considered per point",
								Value: pointcloud.DefaultOutlierNeighbors,
							},
							&cli.Float64Flag{
								Name:  flagStdMult,
								Usage: "standard deviation multiplier of the distance threshold",
								Value: pointcloud.DefaultOutlierStdDevMult,
							},
						}, outputFlags()...),
						Action: RemoveOutliersAction,
					},
				},
			},
		},
	}
}
