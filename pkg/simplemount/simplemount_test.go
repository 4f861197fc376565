package simplemount_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/overlaycore/magicmount/pkg/capability"
	"github.com/overlaycore/magicmount/pkg/simplemount"
)

func TestSimpleMount(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "simplemount suite")
}

type bindCall struct{ src, dst string }

type fakeMounter struct{ binds []bindCall }

func (f *fakeMounter) BindMount(src, dst string) error {
	f.binds = append(f.binds, bindCall{src, dst})
	return nil
}
func (f *fakeMounter) MountTmpfs(target string) error       { return nil }
func (f *fakeMounter) Unmount(target string) error          { return nil }
func (f *fakeMounter) Remount(target string, rw bool) error { return nil }

type fakeAttr struct{ cloned map[string]bool }

func (f *fakeAttr) GetAttr(path string) (capability.Attr, error) { return capability.Attr{}, nil }
func (f *fakeAttr) SetAttr(path string, a capability.Attr) error {
	if f.cloned == nil {
		f.cloned = map[string]bool{}
	}
	f.cloned[path] = true
	return nil
}

var _ = Describe("simple mounter", func() {
	It("mounts every file whose target exists, recursing into directories", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			"/system/etc/hosts":                    "live\n",
			"/mnt/simple/system/etc/hosts":          "override\n",
			"/mnt/simple/system/etc/missing.conf":   "orphan\n",
			"/mnt/simple/system/bin/toolbox":        "bin\n",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		mounter := &fakeMounter{}
		attr := &fakeAttr{}
		m := simplemount.Mounter{Fsys: fs, SrcRoot: "/mnt/simple", Attr: attr, Mounter: mounter}
		Expect(m.Mount("/system")).To(Succeed())

		Expect(mounter.binds).To(ConsistOf(
			bindCall{"/mnt/simple/system/etc/hosts", "/system/etc/hosts"},
		))
		Expect(attr.cloned).To(HaveKey("/mnt/simple/system/etc/hosts"))
	})

	It("does nothing when the source directory is absent", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			"/system/etc/hosts": "live\n",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		mounter := &fakeMounter{}
		m := simplemount.Mounter{Fsys: fs, SrcRoot: "/mnt/simple", Mounter: mounter}
		Expect(m.Mount("/system")).To(Succeed())
		Expect(mounter.binds).To(BeEmpty())
	})
})
