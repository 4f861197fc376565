package bootstage_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/pkg/bootstage"
)

var _ = Describe("framework data relocation", func() {
	It("relocates the first existing, non-symlink candidate to the canonical bin dir", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			"/data/magisk/install.txt": "payload",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		copier := &fakeCopier{}
		ctrl := &bootstage.Controller{Fsys: fs, Copier: copier}

		ctrl.RelocateFrameworkData()

		Expect(copier.copies).To(ConsistOf(bindCall{"/data/magisk", constants.DataBinDir}))
	})

	It("skips a symlinked candidate and falls through to the next one", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			"/data/data/com.topjohnwu.magisk/install/data.txt": "payload",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()
		Expect(fs.Mkdir("/cache", 0755)).To(Succeed())
		Expect(fs.Symlink("/data/data/com.topjohnwu.magisk/install", "/cache/data_bin")).To(Succeed())

		copier := &fakeCopier{}
		ctrl := &bootstage.Controller{Fsys: fs, Copier: copier}

		ctrl.RelocateFrameworkData()

		Expect(copier.copies).To(ConsistOf(bindCall{"/data/data/com.topjohnwu.magisk/install", constants.DataBinDir}))
	})

	It("does nothing when no candidate exists", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/.keep": ""})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		copier := &fakeCopier{}
		ctrl := &bootstage.Controller{Fsys: fs, Copier: copier}

		ctrl.RelocateFrameworkData()

		Expect(copier.copies).To(BeEmpty())
	})
})
