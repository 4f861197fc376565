package bootstage_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/overlaycore/magicmount/pkg/bootstage"
)

var _ = Describe("manager apk install", func() {
	It("labels, installs via pm and removes the apk on success", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			"/data/magisk.apk": "apk bytes",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		labels := newFakeLabeler()
		exec := &fakeExec{results: []int{0}}
		ctrl := &bootstage.Controller{Fsys: fs, Labels: labels, Exec: exec}

		Expect(ctrl.InstallManagerAPK("/data/magisk.apk")).To(Succeed())

		Expect(labels.labels["/data/magisk.apk"]).To(Equal("u:object_r:apk_data_file:s0"))
		Expect(exec.calls).To(HaveLen(1))
		Expect(exec.calls[0].argv).To(Equal([]string{"/system/bin/pm", "install", "-r", "/data/magisk.apk"}))

		_, err = fs.Lstat("/data/magisk.apk")
		Expect(err).To(HaveOccurred())
	})

	It("extracts and installs a stub manager from the init applet", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			"/data/.keep": "",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		exec := &fakeExec{results: []int{0, 0}}
		ctrl := &bootstage.Controller{Fsys: fs, Exec: exec}

		Expect(ctrl.InstallManagerStub()).To(Succeed())

		Expect(exec.calls).To(HaveLen(2))
		Expect(exec.calls[0].argv).To(Equal([]string{"/sbin/magiskinit", "-x", "manager", "/data/magisk.apk"}))
		Expect(exec.calls[1].argv).To(Equal([]string{"/system/bin/pm", "install", "-r", "/data/magisk.apk"}))
	})
})
