package kb

import "github.com/signalsfoundry/dfs-precac/model"

// BuiltinTables returns the 5 GHz channel tables for FCC and ETSI.
func BuiltinTables() []Table {
	return []Table{fccTable(), etsiTable()}
}

// ETSI has no channel 144, so the 132..144 block never forms an 80 MHz
// segment there.
func etsiTable() Table {
	var chans []model.CatalogChannel
	chans = appendRange(chans, 36, 48, model.Width20, false)
	chans = appendRange(chans, 52, 64, model.Width20, true)
	chans = appendRange(chans, 100, 140, model.Width20, true)
	chans = appendList(chans, model.Width40, false, 38, 46)
	chans = appendList(chans, model.Width40, true, 54, 62, 102, 110, 118, 126, 134)
	chans = appendList(chans, model.Width80, false, 42)
	chans = appendList(chans, model.Width80, true, 58, 106, 122)
	chans = appendList(chans, model.Width160, true, 50, 114)
	return Table{Domain: model.DomainETSI, Channels: chans}
}

func fccTable() Table {
	var chans []model.CatalogChannel
	chans = appendRange(chans, 36, 48, model.Width20, false)
	chans = appendRange(chans, 52, 64, model.Width20, true)
	chans = appendRange(chans, 100, 144, model.Width20, true)
	chans = appendRange(chans, 149, 165, model.Width20, false)
	chans = appendList(chans, model.Width40, false, 38, 46, 151, 159)
	chans = appendList(chans, model.Width40, true, 54, 62, 102, 110, 118, 126, 134, 142)
	chans = appendList(chans, model.Width80, false, 42, 155)
	chans = appendList(chans, model.Width80, true, 58, 106, 122, 138)
	chans = appendList(chans, model.Width160, true, 50, 114)
	return Table{Domain: model.DomainFCC, Channels: chans}
}

func appendRange(dst []model.CatalogChannel, first, last model.Channel, w model.Width, dfs bool) []model.CatalogChannel {
	for ch := first; ch <= last; ch += 4 {
		dst = append(dst, model.CatalogChannel{Channel: ch, Width: w, WidthMHz: w.MHz(), DFS: dfs})
	}
	return dst
}

func appendList(dst []model.CatalogChannel, w model.Width, dfs bool, chans ...model.Channel) []model.CatalogChannel {
	for _, ch := range chans {
		dst = append(dst, model.CatalogChannel{Channel: ch, Width: w, WidthMHz: w.MHz(), DFS: dfs})
	}
	return dst
}
