package discover_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/towertools/killfeed/internal/discover"
)

func TestPathID(t *testing.T) {
	Convey("Given server identifiers", t, func() {
		Convey("When a legacy ID is configured", func() {
			id := discover.PathID(discover.ServerPaths{ServerID: "emerald-7020", LegacyID: "8764"})
			So(id, ShouldEqual, "8764")
		})

		Convey("When the server ID ends in digits", func() {
			id := discover.PathID(discover.ServerPaths{ServerID: "emerald-7020"})
			So(id, ShouldEqual, "7020")
		})

		Convey("When the server ID has no digits", func() {
			id := discover.PathID(discover.ServerPaths{ServerID: "emerald"})
			So(id, ShouldEqual, "emerald")
		})
	})
}

func TestCandidateDirs(t *testing.T) {
	Convey("Given a server with host and legacy ID", t, func() {
		sp := discover.ServerPaths{
			ServerID: "emerald",
			Host:     "79.127.236.1:2022",
			LegacyID: "7020",
		}

		Convey("When building candidate directories", func() {
			dirs := discover.CandidateDirs(sp)

			Convey("Then the standardized layout comes first and the root last", func() {
				So(dirs, ShouldResemble, []string{
					"/79.127.236.1_7020/actual1/deathlogs",
					"/79.127.236.1_7020/deathlogs",
					"/79.127.236.1_7020",
					"/deathlogs",
					"/",
				})
			})
		})

		Convey("When a base path hint is configured", func() {
			sp.BasePath = "/custom/logs"
			dirs := discover.CandidateDirs(sp)

			Convey("Then the hint is searched before everything else", func() {
				So(dirs[0], ShouldEqual, "/custom/logs")
				So(len(dirs), ShouldEqual, 6)
			})
		})

		Convey("When the hint duplicates a standard candidate", func() {
			sp.BasePath = "/79.127.236.1_7020/deathlogs"
			dirs := discover.CandidateDirs(sp)

			Convey("Then no directory is listed twice", func() {
				So(len(dirs), ShouldEqual, 5)
				So(dirs[0], ShouldEqual, "/79.127.236.1_7020/deathlogs")
			})
		})
	})
}

func TestIsMapSubdir(t *testing.T) {
	Convey("Given directory names", t, func() {
		So(discover.IsMapSubdir("world_0"), ShouldBeTrue)
		So(discover.IsMapSubdir("World_1"), ShouldBeTrue)
		So(discover.IsMapSubdir("map0"), ShouldBeTrue)
		So(discover.IsMapSubdir("main"), ShouldBeTrue)
		So(discover.IsMapSubdir("backups"), ShouldBeFalse)
		So(discover.IsMapSubdir("world_2"), ShouldBeFalse)
	})
}
